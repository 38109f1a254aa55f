package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// errBodyTooLarge 请求体超过上限
var errBodyTooLarge = errors.New("request body too large")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// readBodyJSON 空 body 视为合法（out 保持零值）
func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return err
	}
	if int64(len(body)) > maxBytes {
		return errBodyTooLarge
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}
