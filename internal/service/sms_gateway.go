package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	twilio "github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
)

const (
	DefaultSmsOrg  = "PROFIRE-ЮГ"
	smsMaxRunes    = 160
	smsDescPreview = 100
)

// ErrNoPhones 请求里没有有效号码
var ErrNoPhones = errors.New("no phone numbers provided")

// SmsSender 短信通道；nil 表示只生成 queued 回执
type SmsSender interface {
	Send(ctx context.Context, phone, body string) (domain.SmsNotification, error)
}

// TwilioSender 通过 Twilio 发送
type TwilioSender struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioSender(accountSID, authToken, from string) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioSender{client: client, from: from}
}

// Send twilio-go 的请求不接受 context，只能在发送前检查是否已取消
func (s *TwilioSender) Send(ctx context.Context, phone, body string) (domain.SmsNotification, error) {
	if err := ctx.Err(); err != nil {
		return domain.SmsNotification{}, fmt.Errorf("sms to %s not sent: %w", phone, err)
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(phone)
	params.SetFrom(s.from)
	params.SetBody(body)

	msg, err := s.client.Api.CreateMessage(params)
	if err != nil {
		return domain.SmsNotification{}, fmt.Errorf("failed to send sms via twilio: %w", err)
	}
	n := domain.SmsNotification{Phone: phone, Status: domain.SmsSent, Message: body}
	if msg.Sid != nil {
		n.MessageID = domain.ProviderID(*msg.Sid)
	}
	if msg.Price != nil {
		if price, perr := strconv.ParseFloat(*msg.Price, 64); perr == nil {
			// Twilio 以负数表示扣费
			n.Cost = -price
		}
	}
	return n, nil
}

// SmsGateway 服务端短信通知：组装文案，逐个号码发送
type SmsGateway struct {
	org    string
	sender SmsSender
	logger *zap.Logger
}

func NewSmsGateway(org string, sender SmsSender, logger *zap.Logger) *SmsGateway {
	if org == "" {
		org = DefaultSmsOrg
	}
	return &SmsGateway{org: org, sender: sender, logger: logger}
}

// TaskMessage 任务通知文案，不超过 160 个字符
func (g *SmsGateway) TaskMessage(objectName, taskDescription string) string {
	text := fmt.Sprintf("%s: Новая задача на объекте '%s'. %s", g.org, objectName, truncateRunes(taskDescription, smsDescPreview))
	return truncateRunes(text, smsMaxRunes)
}

// Notify 空白号码跳过；单个号码失败记为 failed 回执，不影响其它号码
func (g *SmsGateway) Notify(ctx context.Context, phones []string, objectName, taskDescription string) ([]domain.SmsNotification, error) {
	text := g.TaskMessage(objectName, taskDescription)
	out := make([]domain.SmsNotification, 0, len(phones))
	for _, phone := range phones {
		phone = strings.TrimSpace(phone)
		if phone == "" {
			continue
		}
		if g.sender == nil {
			out = append(out, domain.SmsNotification{Phone: phone, Status: domain.SmsQueued, Message: text})
			continue
		}
		n, err := g.sender.Send(ctx, phone, text)
		if err != nil {
			g.logger.Warn("SMS delivery failed", zap.String("phone", phone), zap.Error(err))
			out = append(out, domain.SmsNotification{Phone: phone, Status: domain.SmsFailed, Message: text, Error: err.Error()})
			continue
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, ErrNoPhones
	}
	return out, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
