package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
)

func TestSmsClient_Notify(t *testing.T) {
	var got SmsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(SmsResponse{
			Status:        "success",
			Notifications: []domain.SmsNotification{{Phone: "+79001", Status: domain.SmsQueued}},
		})
	}))
	defer srv.Close()

	c := NewSmsClient(srv.URL, time.Second, zap.NewNop())
	receipts, err := c.Notify(context.Background(), []string{"+79001"}, "Склад", "щит")
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, domain.SmsQueued, receipts[0].Status)
	assert.Equal(t, "Склад", got.ObjectName)
	assert.Equal(t, "щит", got.TaskDescription)
}

func TestSmsClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","error":"No phone numbers provided"}`))
	}))
	defer srv.Close()

	_, err := NewSmsClient(srv.URL, time.Second, zap.NewNop()).Notify(context.Background(), nil, "x", "y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
}

func TestPhotoClient_UploadPhoto(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req PhotoUploadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		if req.Photo == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"photo is required"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(PhotoUploadResponse{PhotoURL: "http://cdn/p.jpg", Message: "Photo uploaded"})
	}))
	defer srv.Close()

	c := NewPhotoClient(srv.URL, time.Second, zap.NewNop())
	url, err := c.UploadPhoto(context.Background(), "data:image/jpeg;base64,AA==", "jpg")
	require.NoError(t, err)
	assert.Equal(t, "http://cdn/p.jpg", url)

	_, err = c.UploadPhoto(context.Background(), "", "jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "photo is required")
}
