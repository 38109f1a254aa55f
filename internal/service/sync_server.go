package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/repository"
)

// ObjectsChangedSuffix 对象变更事件主题后缀
const ObjectsChangedSuffix = "/objects/changed"

// PhotoSaver 照片落地（repository.PhotoStore）
type PhotoSaver interface {
	SaveDataURI(ctx context.Context, dataURI, ext string) (string, error)
}

// EventPublisher 变更事件发布（common/mqtt.Client）
type EventPublisher interface {
	Publish(topic string, payload []byte) error
}

// ObjectsChangedEvent 合并后发布的事件
type ObjectsChangedEvent struct {
	ObjectIDs []string `json:"object_ids"`
	Total     int      `json:"total"`
	At        string   `json:"at"`
}

// SyncService 同步端点的业务逻辑
type SyncService struct {
	repo        repository.RosterRepository
	photos      PhotoSaver
	sms         *SmsGateway
	events      EventPublisher
	topicPrefix string
	logger      *zap.Logger
	now         func() time.Time
}

type SyncServiceDeps struct {
	Repo        repository.RosterRepository
	Photos      PhotoSaver     // 可选
	Sms         *SmsGateway    // 可选，缺省只生成 queued 回执
	Events      EventPublisher // 可选
	TopicPrefix string
	Logger      *zap.Logger
}

func NewSyncService(deps SyncServiceDeps) *SyncService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sms := deps.Sms
	if sms == nil {
		sms = NewSmsGateway("", nil, logger)
	}
	return &SyncService{
		repo:        deps.Repo,
		photos:      deps.Photos,
		sms:         sms,
		events:      deps.Events,
		topicPrefix: deps.TopicPrefix,
		logger:      logger,
		now:         time.Now,
	}
}

// Snapshot GET /api/sync
func (s *SyncService) Snapshot(ctx context.Context) (SyncData, error) {
	objects, users, err := s.repo.Snapshot(ctx)
	if err != nil {
		return SyncData{}, err
	}
	return SyncData{Objects: objects, Users: users}, nil
}

// Apply POST /api/sync：提取内嵌照片，合并，发布事件。返回合并后的数据和提取的照片数。
func (s *SyncService) Apply(ctx context.Context, env SyncEnvelope) (SyncData, int, error) {
	if env.Action != "" && env.Action != "sync" {
		return SyncData{}, 0, domain.Invalid("action", fmt.Sprintf("unsupported action %q", env.Action))
	}
	objects := make([]domain.SiteObject, 0, len(env.Objects))
	uploaded := 0
	for _, o := range env.Objects {
		o = o.Clone()
		n, err := s.extractPhotos(ctx, &o)
		if err != nil {
			return SyncData{}, uploaded, err
		}
		uploaded += n
		objects = append(objects, o)
	}

	merged, err := s.repo.Merge(ctx, objects, env.Users)
	if err != nil {
		return SyncData{}, uploaded, fmt.Errorf("failed to merge objects: %w", err)
	}
	_, users, err := s.repo.Snapshot(ctx)
	if err != nil {
		return SyncData{}, uploaded, err
	}

	s.logger.Info("Sync applied",
		zap.Int("objects", len(objects)),
		zap.Int("users", len(env.Users)),
		zap.Int("uploaded_photos", uploaded),
	)
	s.publishChanged(objects, len(merged))
	return SyncData{Objects: merged, Users: users}, uploaded, nil
}

// UploadPhoto POST /api/upload-photo
func (s *SyncService) UploadPhoto(ctx context.Context, dataURI, ext string) (string, error) {
	if s.photos == nil {
		return "", fmt.Errorf("photo storage is not configured")
	}
	if dataURI == "" {
		return "", domain.Invalid("photo", "photo is required")
	}
	url, err := s.photos.SaveDataURI(ctx, dataURI, ext)
	if err != nil {
		return "", err
	}
	return url, nil
}

// NotifySms POST /api/notify-sms
func (s *SyncService) NotifySms(ctx context.Context, req SmsRequest) ([]domain.SmsNotification, error) {
	return s.sms.Notify(ctx, req.Phones, req.ObjectName, req.TaskDescription)
}

func (s *SyncService) extractPhotos(ctx context.Context, o *domain.SiteObject) (int, error) {
	if s.photos == nil {
		return 0, nil
	}
	count := 0
	swap := func(ref *string) error {
		if !repository.IsEmbeddedImage(*ref) {
			return nil
		}
		url, err := s.photos.SaveDataURI(ctx, *ref, "")
		if err != nil {
			return fmt.Errorf("object %s: %w", o.ID, err)
		}
		*ref = url
		count++
		return nil
	}

	if err := swap(&o.ObjectPhoto); err != nil {
		return count, err
	}
	for i := range o.Visits {
		for j := range o.Visits[i].Photos {
			if err := swap(&o.Visits[i].Photos[j]); err != nil {
				return count, err
			}
		}
	}
	for i := range o.InstallationDays {
		for j := range o.InstallationDays[i].Photos {
			if err := swap(&o.InstallationDays[i].Photos[j]); err != nil {
				return count, err
			}
		}
	}
	return count, nil
}

func (s *SyncService) publishChanged(objects []domain.SiteObject, total int) {
	if s.events == nil || len(objects) == 0 {
		return
	}
	ids := make([]string, 0, len(objects))
	for _, o := range objects {
		ids = append(ids, o.ID)
	}
	payload, err := json.Marshal(ObjectsChangedEvent{ObjectIDs: ids, Total: total, At: domain.Timestamp(s.now())})
	if err != nil {
		return
	}
	topic := s.topicPrefix + ObjectsChangedSuffix
	if err := s.events.Publish(topic, payload); err != nil {
		s.logger.Warn("Failed to publish change event", zap.String("topic", topic), zap.Error(err))
	}
}
