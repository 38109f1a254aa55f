package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
)

// SmsRequest 短信端点请求体
type SmsRequest struct {
	Phones          []string `json:"phones"`
	ObjectName      string   `json:"object_name"`
	TaskDescription string   `json:"task_description"`
}

// SmsResponse 短信端点响应
type SmsResponse struct {
	Status        string                   `json:"status"`
	Message       string                   `json:"message,omitempty"`
	Notifications []domain.SmsNotification `json:"notifications"`
	Error         string                   `json:"error,omitempty"`
}

// SmsClient 任务通知短信客户端
type SmsClient struct {
	httpClient *resty.Client
	endpoint   string
	logger     *zap.Logger
}

func NewSmsClient(endpoint string, timeout time.Duration, logger *zap.Logger) *SmsClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &SmsClient{httpClient: client, endpoint: endpoint, logger: logger}
}

// Notify 发送任务通知，返回每个号码的回执
func (c *SmsClient) Notify(ctx context.Context, phones []string, objectName, taskDescription string) ([]domain.SmsNotification, error) {
	c.logger.Info("Calling SMS endpoint",
		zap.Int("phones", len(phones)),
		zap.String("object_name", objectName),
	)

	var response SmsResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(SmsRequest{Phones: phones, ObjectName: objectName, TaskDescription: taskDescription}).
		SetResult(&response).
		Post(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call SMS endpoint: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("SMS endpoint returned HTTP %d", resp.StatusCode())
	}
	if response.Status != "success" {
		return nil, fmt.Errorf("SMS endpoint error: %s", response.Error)
	}
	return response.Notifications, nil
}
