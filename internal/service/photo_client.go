package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// PhotoUploadRequest 照片上传端点请求体
type PhotoUploadRequest struct {
	Photo string `json:"photo"`
	Type  string `json:"type"` // "jpg" | "png"
}

// PhotoUploadResponse 照片上传端点响应
type PhotoUploadResponse struct {
	PhotoURL string `json:"photo_url"`
	Message  string `json:"message"`
	Error    string `json:"error,omitempty"`
}

// PhotoClient 照片上传客户端（upload 引用模式使用）
type PhotoClient struct {
	httpClient *resty.Client
	endpoint   string
	logger     *zap.Logger
}

func NewPhotoClient(endpoint string, timeout time.Duration, logger *zap.Logger) *PhotoClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &PhotoClient{httpClient: client, endpoint: endpoint, logger: logger}
}

// UploadPhoto 上传 data URI，返回远程 URL
func (c *PhotoClient) UploadPhoto(ctx context.Context, dataURI string, ext string) (string, error) {
	var response PhotoUploadResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(PhotoUploadRequest{Photo: dataURI, Type: ext}).
		SetResult(&response).
		SetError(&response).
		Post(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to call photo upload endpoint: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("photo upload returned HTTP %d: %s", resp.StatusCode(), response.Error)
	}
	if response.PhotoURL == "" {
		return "", fmt.Errorf("photo upload returned no url")
	}
	c.logger.Debug("Photo uploaded", zap.String("photo_url", response.PhotoURL))
	return response.PhotoURL, nil
}
