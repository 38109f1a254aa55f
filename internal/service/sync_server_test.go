package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/repository"
)

type recordingPublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
}

func (p *recordingPublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

type fakeSender struct {
	fail map[string]bool
	sent []string
}

func (f *fakeSender) Send(_ context.Context, phone, body string) (domain.SmsNotification, error) {
	if f.fail[phone] {
		return domain.SmsNotification{}, errors.New("undeliverable")
	}
	f.sent = append(f.sent, phone)
	return domain.SmsNotification{Phone: phone, Status: domain.SmsSent, MessageID: "42", Message: body}, nil
}

func newTestSyncService(t *testing.T) (*SyncService, *recordingPublisher) {
	photos, err := repository.NewPhotoStore(t.TempDir(), "http://host/media")
	require.NoError(t, err)
	pub := &recordingPublisher{}
	svc := NewSyncService(SyncServiceDeps{
		Repo:        repository.NewMemoryRosterRepo(),
		Photos:      photos,
		Events:      pub,
		TopicPrefix: "tracker",
		Logger:      zap.NewNop(),
	})
	return svc, pub
}

func TestSyncService_ApplyExtractsPhotosAndPublishes(t *testing.T) {
	svc, pub := newTestSyncService(t)
	ctx := context.Background()
	img := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("img"))

	obj := domain.SiteObject{ID: "o1", Name: "Site", Address: "Addr", ObjectPhoto: img, Visits: []domain.Visit{
		{ID: "v1", Type: domain.VisitPlanned, CreatedAt: "2024-01-01T00:00:00.000Z", Photos: []string{img, "http://elsewhere/x.jpg"}},
	}}
	data, uploaded, err := svc.Apply(ctx, SyncEnvelope{Action: "sync", Objects: []domain.SiteObject{obj}})
	require.NoError(t, err)
	assert.Equal(t, 2, uploaded)
	require.Len(t, data.Objects, 1)
	got := data.Objects[0]
	assert.True(t, strings.HasPrefix(got.ObjectPhoto, "http://host/media/visits/"))
	assert.Equal(t, got.ObjectPhoto, got.Visits[0].Photos[0], "same bytes share one key")
	assert.Equal(t, "http://elsewhere/x.jpg", got.Visits[0].Photos[1])

	require.Len(t, pub.topics, 1)
	assert.Equal(t, "tracker/objects/changed", pub.topics[0])
	var ev ObjectsChangedEvent
	require.NoError(t, json.Unmarshal(pub.payloads[0], &ev))
	assert.Equal(t, []string{"o1"}, ev.ObjectIDs)
	assert.Equal(t, 1, ev.Total)
}

func TestSyncService_UsersOnlyWhenNonEmpty(t *testing.T) {
	svc, pub := newTestSyncService(t)
	ctx := context.Background()

	data, _, err := svc.Apply(ctx, SyncEnvelope{Action: "sync", Users: domain.DefaultRoster(fixedNow())})
	require.NoError(t, err)
	assert.Len(t, data.Users, 2)
	assert.Empty(t, pub.topics, "no objects, no event")

	data, _, err = svc.Apply(ctx, SyncEnvelope{Action: "sync", Objects: []domain.SiteObject{{ID: "o", Name: "n", Address: "a"}}})
	require.NoError(t, err)
	assert.Len(t, data.Users, 2)

	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Objects, 1)
}

func TestSyncService_RejectsUnknownAction(t *testing.T) {
	svc, _ := newTestSyncService(t)
	_, _, err := svc.Apply(context.Background(), SyncEnvelope{Action: "drop"})
	assert.True(t, domain.IsValidation(err))
}

func TestSyncService_UploadPhoto(t *testing.T) {
	svc, _ := newTestSyncService(t)
	url, err := svc.UploadPhoto(context.Background(), "data:image/png;base64,"+base64.StdEncoding.EncodeToString([]byte("png")), "png")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, ".png"))

	_, err = svc.UploadPhoto(context.Background(), "", "jpg")
	assert.True(t, domain.IsValidation(err))
	_, err = svc.UploadPhoto(context.Background(), "not a uri", "jpg")
	assert.ErrorIs(t, err, repository.ErrInvalidDataURI)
}

func TestSmsGateway_QueuedWithoutSender(t *testing.T) {
	g := NewSmsGateway("", nil, zap.NewNop())
	out, err := g.Notify(context.Background(), []string{"+79001112233", "  ", ""}, "Склад", "Проверить щит")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.SmsQueued, out[0].Status)
	assert.Equal(t, "PROFIRE-ЮГ: Новая задача на объекте 'Склад'. Проверить щит", out[0].Message)

	_, err = g.Notify(context.Background(), []string{" "}, "x", "y")
	assert.ErrorIs(t, err, ErrNoPhones)
}

func TestSmsGateway_MessageLimits(t *testing.T) {
	g := NewSmsGateway("ORG", nil, zap.NewNop())
	msg := g.TaskMessage(strings.Repeat("О", 40), strings.Repeat("я", 300))
	assert.Equal(t, 160, utf8.RuneCountInString(msg))

	msg = g.TaskMessage("A", strings.Repeat("x", 150))
	assert.True(t, strings.HasSuffix(msg, ". "+strings.Repeat("x", 100)))
}

func TestSmsGateway_PartialDeliveryFailure(t *testing.T) {
	sender := &fakeSender{fail: map[string]bool{"+2": true}}
	g := NewSmsGateway("ORG", sender, zap.NewNop())
	out, err := g.Notify(context.Background(), []string{"+1", "+2"}, "obj", "desc")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, domain.SmsSent, out[0].Status)
	assert.Equal(t, domain.ProviderID("42"), out[0].MessageID)
	assert.Equal(t, domain.SmsFailed, out[1].Status)
	assert.Equal(t, "undeliverable", out[1].Error)
	assert.Equal(t, []string{"+1"}, sender.sent)
}

func TestTwilioSender_CancelledBeforeSend(t *testing.T) {
	sender := NewTwilioSender("AC00000000000000000000000000000000", "token", "+10000000000")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sender.Send(ctx, "+79001234567", "text")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
