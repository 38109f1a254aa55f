package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/store"
)

// Cause 同步失败的机器可读原因
type Cause string

const (
	CauseNone     Cause = ""
	CauseNetwork  Cause = "network"
	CauseProtocol Cause = "protocol"
	CauseQuota    Cause = "quota"
)

// Status 同步结果
type Status string

const (
	StatusSuccess Status = "success"
	// StatusPartial 上传成功但刷新失败
	StatusPartial Status = "partial"
	StatusFailure Status = "failure"
)

const (
	msgNetwork = "network error, check your connection"
	msgQuota   = "local storage is full, free some space"
)

// SyncResult 同步操作的结果（成功和失败都通过它返回，不抛错误）
type SyncResult struct {
	Status         Status
	Message        string
	Cause          Cause
	Err            error
	ObjectsCount   int
	UsersCount     int
	UploadedPhotos int
	// FailedObject 上传中断时出错的对象名
	FailedObject string
	Objects      []domain.SiteObject
	Users        []domain.User
}

func (r SyncResult) OK() bool { return r.Status == StatusSuccess }

// ProgressFunc 进度回调，index 从 1 开始
type ProgressFunc func(index, total int, message string)

// Mirror 下载后需要整体覆盖的本地镜像
type Mirror interface {
	SaveRoster(ctx context.Context, users []domain.User) error
	SaveObjects(ctx context.Context, objects []domain.SiteObject) error
	MarkSynced(ctx context.Context, t time.Time) error
}

// SyncEnvelope 同步端点 POST 请求体
type SyncEnvelope struct {
	Action  string              `json:"action"`
	Objects []domain.SiteObject `json:"objects"`
	Users   []domain.User       `json:"users"`
}

// SyncData 同步端点返回的数据
type SyncData struct {
	Objects []domain.SiteObject `json:"objects"`
	Users   []domain.User       `json:"users,omitempty"`
}

// SyncResponse 同步端点响应
type SyncResponse struct {
	Status         string    `json:"status"`
	Data           *SyncData `json:"data,omitempty"`
	UploadedPhotos int       `json:"uploaded_photos,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// SyncClientConfig 同步客户端配置
type SyncClientConfig struct {
	Endpoint string
	Timeout  time.Duration
	// PaceDelay 逐个上传对象时两次请求之间的间隔
	PaceDelay time.Duration
	// CheckConnection 上传前先发一次 OPTIONS 连接检查
	CheckConnection bool
}

// SyncClient 远程同步客户端
type SyncClient struct {
	httpClient *resty.Client
	endpoint   string
	pace       time.Duration
	checkConn  bool
	mirror     Mirror
	logger     *zap.Logger
	now        func() time.Time
}

// NewSyncClient 创建同步客户端；不做自动重试
func NewSyncClient(cfg SyncClientConfig, mirror Mirror, logger *zap.Logger) *SyncClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second // 内嵌照片的对象可能很大
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &SyncClient{
		httpClient: client,
		endpoint:   cfg.Endpoint,
		pace:       cfg.PaceDelay,
		checkConn:  cfg.CheckConnection,
		mirror:     mirror,
		logger:     logger,
		now:        time.Now,
	}
}

// requestError 单次请求失败
type requestError struct {
	cause  Cause
	status int
	msg    string
	err    error
}

func (e *requestError) Error() string { return e.msg }
func (e *requestError) Unwrap() error { return e.err }

// Download 拉取服务端的完整对象和用户列表，整体覆盖本地镜像
func (c *SyncClient) Download(ctx context.Context) SyncResult {
	c.logger.Info("Downloading objects from sync endpoint", zap.String("endpoint", c.endpoint))

	resp, err := c.httpClient.R().SetContext(ctx).Get(c.endpoint)
	body, rerr := c.decode(resp, err)
	if rerr != nil {
		return c.failure(rerr, "download failed")
	}
	if body.Data == nil {
		return c.failure(&requestError{cause: CauseProtocol, status: resp.StatusCode(), msg: "response has no data"}, "download failed")
	}

	objects := body.Data.Objects
	if objects == nil {
		objects = []domain.SiteObject{}
	}
	if err := c.mirror.SaveObjects(ctx, objects); err != nil {
		return c.storageFailure(err)
	}
	users := body.Data.Users
	// 服务端没有用户时保留本地名单，名单永远不能为空
	if len(users) > 0 {
		if err := c.mirror.SaveRoster(ctx, users); err != nil {
			return c.storageFailure(err)
		}
	}
	if err := c.mirror.MarkSynced(ctx, c.now()); err != nil {
		c.logger.Warn("Failed to record sync time", zap.Error(err))
	}

	c.logger.Info("Download completed",
		zap.Int("objects", len(objects)),
		zap.Int("users", len(users)),
	)
	return SyncResult{
		Status:       StatusSuccess,
		Message:      fmt.Sprintf("downloaded %d objects", len(objects)),
		ObjectsCount: len(objects),
		UsersCount:   len(users),
		Objects:      objects,
		Users:        users,
	}
}

// Upload 逐个对象上传（每个请求只带一个对象），第一个失败即中止。
// 已成功的对象不回滚。
func (c *SyncClient) Upload(ctx context.Context, objects []domain.SiteObject, progress ProgressFunc) SyncResult {
	total := len(objects)
	c.logger.Info("Uploading objects to sync endpoint", zap.Int("total", total))

	if c.checkConn && total > 0 {
		resp, err := c.httpClient.R().SetContext(ctx).Options(c.endpoint)
		if err != nil || resp.IsError() {
			if err == nil {
				err = fmt.Errorf("HTTP %d", resp.StatusCode())
			}
			return c.failure(&requestError{cause: CauseNetwork, msg: msgNetwork, err: err}, "connection check failed")
		}
	}

	photos := 0
	for i, obj := range objects {
		if progress != nil {
			progress(i+1, total, fmt.Sprintf("uploading %q (%d/%d)", obj.Name, i+1, total))
		}

		envelope := SyncEnvelope{Action: "sync", Objects: []domain.SiteObject{obj}, Users: []domain.User{}}
		resp, err := c.httpClient.R().SetContext(ctx).SetBody(envelope).Post(c.endpoint)
		body, rerr := c.decode(resp, err)
		if rerr != nil {
			res := c.failure(rerr, fmt.Sprintf("failed to upload %q", obj.Name))
			res.FailedObject = obj.Name
			res.ObjectsCount = i
			res.UploadedPhotos = photos
			return res
		}
		photos += body.UploadedPhotos

		if i < total-1 {
			if err := sleepCtx(ctx, c.pace); err != nil {
				res := c.failure(&requestError{cause: CauseNetwork, msg: "upload cancelled", err: err}, "upload interrupted")
				res.ObjectsCount = i + 1
				res.UploadedPhotos = photos
				return res
			}
		}
	}

	if err := c.mirror.MarkSynced(ctx, c.now()); err != nil {
		c.logger.Warn("Failed to record sync time", zap.Error(err))
	}
	c.logger.Info("Upload completed", zap.Int("objects", total), zap.Int("uploaded_photos", photos))
	return SyncResult{
		Status:         StatusSuccess,
		Message:        fmt.Sprintf("uploaded %d objects, %d photos", total, photos),
		ObjectsCount:   total,
		UploadedPhotos: photos,
	}
}

// FullSync 先上传再下载。上传失败直接返回；上传成功但下载失败返回 partial。
func (c *SyncClient) FullSync(ctx context.Context, objects []domain.SiteObject, progress ProgressFunc) SyncResult {
	up := c.Upload(ctx, objects, progress)
	if !up.OK() {
		return up
	}
	if err := sleepCtx(ctx, c.pace); err != nil {
		return SyncResult{Status: StatusPartial, Message: "uploaded, but refresh was cancelled", Cause: CauseNetwork, Err: err, UploadedPhotos: up.UploadedPhotos}
	}

	down := c.Download(ctx)
	if !down.OK() {
		return SyncResult{
			Status:         StatusPartial,
			Message:        "uploaded, but refresh failed: " + down.Message,
			Cause:          down.Cause,
			Err:            down.Err,
			UploadedPhotos: up.UploadedPhotos,
		}
	}
	down.UploadedPhotos = up.UploadedPhotos
	down.Message = fmt.Sprintf("sync completed: uploaded %d, downloaded %d objects", up.ObjectsCount, down.ObjectsCount)
	return down
}

// PushUsers 保存用户名单到服务端（director 修改名单后的自动保存）
func (c *SyncClient) PushUsers(ctx context.Context, users []domain.User) error {
	envelope := SyncEnvelope{Action: "sync", Objects: []domain.SiteObject{}, Users: users}
	resp, err := c.httpClient.R().SetContext(ctx).SetBody(envelope).Post(c.endpoint)
	if _, rerr := c.decode(resp, err); rerr != nil {
		return rerr
	}
	return nil
}

// decode 把传输错误、HTTP 状态、JSON 格式和业务状态统一归类
func (c *SyncClient) decode(resp *resty.Response, err error) (*SyncResponse, *requestError) {
	if err != nil {
		if IsNetworkError(err) {
			return nil, &requestError{cause: CauseNetwork, msg: msgNetwork, err: err}
		}
		return nil, &requestError{cause: CauseProtocol, msg: err.Error(), err: err}
	}
	if resp.IsError() {
		return nil, &requestError{cause: CauseProtocol, status: resp.StatusCode(), msg: fmt.Sprintf("HTTP %d", resp.StatusCode())}
	}
	var body SyncResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, &requestError{cause: CauseProtocol, status: resp.StatusCode(), msg: "malformed response: " + err.Error(), err: err}
	}
	if body.Status != "success" {
		msg := body.Error
		if msg == "" {
			msg = "server returned status " + body.Status
		}
		return nil, &requestError{cause: CauseProtocol, status: resp.StatusCode(), msg: msg}
	}
	return &body, nil
}

func (c *SyncClient) failure(rerr *requestError, prefix string) SyncResult {
	c.logger.Error("Sync request failed",
		zap.String("cause", string(rerr.cause)),
		zap.Int("status_code", rerr.status),
		zap.String("message", rerr.msg),
		zap.Error(rerr.err),
	)
	return SyncResult{
		Status:  StatusFailure,
		Message: prefix + ": " + rerr.msg,
		Cause:   rerr.cause,
		Err:     rerr,
	}
}

func (c *SyncClient) storageFailure(err error) SyncResult {
	if errors.Is(err, store.ErrQuotaExceeded) {
		c.logger.Error("Download could not be stored locally", zap.Error(err))
		return SyncResult{Status: StatusFailure, Message: msgQuota, Cause: CauseQuota, Err: err}
	}
	return SyncResult{Status: StatusFailure, Message: "failed to save downloaded data: " + err.Error(), Cause: CauseProtocol, Err: err}
}

var networkErrorText = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"timeout",
	"eof",
	"failed to fetch",
}

// IsNetworkError 传输层失败（而不是服务端返回了错误）
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range networkErrorText {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
