package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/repository"
	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/service"
)

// DefaultMaxBodyBytes 单个对象可能内嵌视频（base64 后约 1.4 倍）
const DefaultMaxBodyBytes int64 = 128 << 20

// SyncHandler 同步端点；响应格式与现有客户端保持一致：{status, data, error}
type SyncHandler struct {
	svc          *service.SyncService
	maxBodyBytes int64
	logger       *zap.Logger
}

func NewSyncHandler(svc *service.SyncService, maxBodyBytes int64, logger *zap.Logger) *SyncHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &SyncHandler{svc: svc, maxBodyBytes: maxBodyBytes, logger: logger}
}

func (h *SyncHandler) GetSync(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("Failed to load snapshot", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, service.SyncResponse{Status: "error", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, service.SyncResponse{Status: "success", Data: &data})
}

func (h *SyncHandler) PostSync(w http.ResponseWriter, r *http.Request) {
	var env service.SyncEnvelope
	if err := readBodyJSON(r, h.maxBodyBytes, &env); err != nil {
		h.badRequest(w, err)
		return
	}
	data, uploaded, err := h.svc.Apply(r.Context(), env)
	if err != nil {
		status := http.StatusInternalServerError
		if domain.IsValidation(err) || errors.Is(err, repository.ErrInvalidDataURI) {
			status = http.StatusBadRequest
		} else {
			h.logger.Error("Sync failed", zap.Error(err))
		}
		writeJSON(w, status, service.SyncResponse{Status: "error", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, service.SyncResponse{Status: "success", Data: &data, UploadedPhotos: uploaded})
}

func (h *SyncHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	var req service.PhotoUploadRequest
	if err := readBodyJSON(r, h.maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, service.PhotoUploadResponse{Error: err.Error()})
		return
	}
	url, err := h.svc.UploadPhoto(r.Context(), req.Photo, req.Type)
	if err != nil {
		status := http.StatusInternalServerError
		if domain.IsValidation(err) || errors.Is(err, repository.ErrInvalidDataURI) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, service.PhotoUploadResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, service.PhotoUploadResponse{PhotoURL: url, Message: "Photo uploaded"})
}

func (h *SyncHandler) NotifySms(w http.ResponseWriter, r *http.Request) {
	var req service.SmsRequest
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, service.SmsResponse{Status: "error", Error: err.Error()})
		return
	}
	notifications, err := h.svc.NotifySms(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		msg := err.Error()
		if errors.Is(err, service.ErrNoPhones) {
			status = http.StatusBadRequest
			msg = "No phone numbers provided"
		}
		writeJSON(w, status, service.SmsResponse{Status: "error", Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, service.SmsResponse{
		Status:        "success",
		Message:       fmt.Sprintf("SMS уведомления отправлены на %d номеров", len(notifications)),
		Notifications: notifications,
	})
}

func (h *SyncHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "visit-tracker"})
}

func (h *SyncHandler) badRequest(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, errBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	writeJSON(w, status, service.SyncResponse{Status: "error", Error: err.Error()})
}
