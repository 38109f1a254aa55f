package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// NewRouter 注册同步端点路由；mediaRoot 为空时不提供 /media/ 静态文件
func NewRouter(h *SyncHandler, mediaRoot string, logger *zap.Logger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sync", h.GetSync).Methods(http.MethodGet)
	api.HandleFunc("/sync", h.PostSync).Methods(http.MethodPost)
	api.HandleFunc("/upload-photo", h.UploadPhoto).Methods(http.MethodPost)
	api.HandleFunc("/notify-sms", h.NotifySms).Methods(http.MethodPost)
	// 客户端上传前的连通性探测（不带 Origin，不会被 CORS 预检拦截）
	api.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if mediaRoot != "" {
		files := http.StripPrefix("/media/", http.FileServer(http.Dir(mediaRoot)))
		r.PathPrefix("/media/").Handler(files).Methods(http.MethodGet, http.MethodHead)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logger.Debug("route not found", zap.String("method", req.Method), zap.String("path", req.URL.Path))
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	})

	co := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	})
	return co.Handler(r)
}
