package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/store"
)

var (
	ErrNotLoggedIn        = errors.New("not logged in")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

var validate = validator.New()

// Persistence 本地持久化端口（store.LocalStore 实现）
type Persistence interface {
	LoadRoster(ctx context.Context) ([]domain.User, error)
	LoadObjects(ctx context.Context) ([]domain.SiteObject, error)
	LoadSession(ctx context.Context) (*domain.Session, error)
	SaveRoster(ctx context.Context, users []domain.User) error
	SaveObjects(ctx context.Context, objects []domain.SiteObject) error
	SaveSession(ctx context.Context, session domain.Session) error
	ClearSession(ctx context.Context) error
	EnqueuePending(ctx context.Context, typ store.OpType, data any) (store.PendingOp, error)
}

// RemoteSaver 后台自动保存端口（SyncClient 实现）
type RemoteSaver interface {
	PushUsers(ctx context.Context, users []domain.User) error
	Upload(ctx context.Context, objects []domain.SiteObject, progress ProgressFunc) SyncResult
}

// Notifier 任务短信通知端口（SmsClient 实现）
type Notifier interface {
	Notify(ctx context.Context, phones []string, objectName, taskDescription string) ([]domain.SmsNotification, error)
}

// Scheduler 后台任务端口（Dispatcher 实现）
type Scheduler interface {
	Submit(name string, fn func(ctx context.Context) error) bool
}

// PersistError 内存中的变更已生效，但本地镜像写入失败
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return "change kept in memory but not saved locally: " + e.Err.Error()
}

func (e *PersistError) Unwrap() error { return e.Err }

// AppDeps AppState 的依赖；Remote、Notifier、Scheduler 可以为 nil
type AppDeps struct {
	Store     Persistence
	Remote    RemoteSaver
	Notifier  Notifier
	Scheduler Scheduler
	Logger    *zap.Logger
	Now       func() time.Time
	NewID     func() string
}

// AppState 应用状态：用户、对象、会话在内存中的唯一来源。
// 所有变更串行执行；每次变更整体写入本地镜像，并可能触发后台自动保存。
type AppState struct {
	mu sync.Mutex

	users   []domain.User
	objects []domain.SiteObject
	session *domain.Session

	// 对象和名单分别写入，各自记录最近一次写入是否失败
	objectsStale bool
	rosterStale  bool

	store     Persistence
	remote    RemoteSaver
	notifier  Notifier
	scheduler Scheduler
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

func NewAppState(deps AppDeps) *AppState {
	s := &AppState{
		store:     deps.Store,
		remote:    deps.Remote,
		notifier:  deps.Notifier,
		scheduler: deps.Scheduler,
		logger:    deps.Logger,
		now:       deps.Now,
		newID:     deps.NewID,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Load 从本地镜像恢复状态；名单为空时使用内置账号
func (s *AppState) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.store.LoadRoster(ctx)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	if len(users) == 0 {
		users = domain.DefaultRoster(s.now())
	}
	objects, err := s.store.LoadObjects(ctx)
	if err != nil {
		return fmt.Errorf("load objects: %w", err)
	}
	session, err := s.store.LoadSession(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	s.users = users
	s.objects = objects
	s.session = session
	return nil
}

// ---- session ----

func (s *AppState) Login(ctx context.Context, username, password string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username && u.Password == password {
			session := domain.Session{Role: u.Role, Name: u.FullName}
			s.session = &session
			if err := s.store.SaveSession(ctx, session); err != nil {
				s.logger.Warn("Failed to persist session", zap.Error(err))
			}
			s.logger.Info("User logged in", zap.String("username", username), zap.String("role", string(u.Role)))
			return session, nil
		}
	}
	return domain.Session{}, ErrInvalidCredentials
}

func (s *AppState) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	return s.store.ClearSession(ctx)
}

// Session 当前会话；未登录返回 nil
func (s *AppState) Session() *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	cp := *s.session
	return &cp
}

// OutOfSync 本地镜像是否落后于内存状态；之后一次成功的整值写入会恢复同步
func (s *AppState) OutOfSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objectsStale || s.rosterStale
}

// ---- users ----

func (s *AppState) Users() []domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.User(nil), s.users...)
}

// UserInput 新建/修改用户的输入
type UserInput struct {
	Username string
	Password string
	FullName string
	Phone    string
	Role     domain.Role
}

func (s *AppState) AddUser(ctx context.Context, in UserInput) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireDirector(); err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:        s.newID(),
		Username:  strings.TrimSpace(in.Username),
		Password:  in.Password,
		FullName:  strings.TrimSpace(in.FullName),
		Phone:     strings.TrimSpace(in.Phone),
		Role:      in.Role,
		CreatedAt: domain.Timestamp(s.now()),
	}
	if u.Role == "" {
		u.Role = domain.RoleTechnician
	}
	if err := validateStruct(u); err != nil {
		return domain.User{}, err
	}
	if s.usernameTaken(u.Username, "") {
		return domain.User{}, domain.Invalid("username", "username already exists")
	}

	users := append(append([]domain.User(nil), s.users...), u)
	return u, s.commitUsers(ctx, users)
}

func (s *AppState) UpdateUser(ctx context.Context, id string, in UserInput) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireDirector(); err != nil {
		return domain.User{}, err
	}
	idx := s.userIndex(id)
	if idx < 0 {
		return domain.User{}, domain.ErrNotFound
	}
	u := s.users[idx]
	u.Username = strings.TrimSpace(in.Username)
	u.Password = in.Password
	u.FullName = strings.TrimSpace(in.FullName)
	u.Phone = strings.TrimSpace(in.Phone)
	if in.Role != "" {
		u.Role = in.Role
	}
	if err := validateStruct(u); err != nil {
		return domain.User{}, err
	}
	if s.usernameTaken(u.Username, id) {
		return domain.User{}, domain.Invalid("username", "username already exists")
	}

	users := append([]domain.User(nil), s.users...)
	users[idx] = u
	return u, s.commitUsers(ctx, users)
}

// DeleteUser 名单里最后一个用户不能删除
func (s *AppState) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireDirector(); err != nil {
		return err
	}
	idx := s.userIndex(id)
	if idx < 0 {
		return domain.ErrNotFound
	}
	if len(s.users) <= 1 {
		return domain.Invalid("users", "cannot delete the last user")
	}
	users := make([]domain.User, 0, len(s.users)-1)
	users = append(users, s.users[:idx]...)
	users = append(users, s.users[idx+1:]...)
	return s.commitUsers(ctx, users)
}

func (s *AppState) usernameTaken(username, exceptID string) bool {
	for _, u := range s.users {
		if u.Username == username && u.ID != exceptID {
			return true
		}
	}
	return false
}

func (s *AppState) userIndex(id string) int {
	for i := range s.users {
		if s.users[i].ID == id {
			return i
		}
	}
	return -1
}

// commitUsers 先更新内存，再写本地镜像，最后后台推送到服务端
func (s *AppState) commitUsers(ctx context.Context, users []domain.User) error {
	s.users = users
	if err := s.store.SaveRoster(ctx, users); err != nil {
		s.rosterStale = true
		s.logger.Error("Failed to save roster locally", zap.Error(err))
		return &PersistError{Err: err}
	}
	s.rosterStale = false
	if s.remote != nil && s.scheduler != nil {
		snapshot := append([]domain.User(nil), users...)
		s.scheduler.Submit("push-users", func(ctx context.Context) error {
			return s.remote.PushUsers(ctx, snapshot)
		})
	}
	return nil
}

// ---- objects ----

// ObjectInput 新建/修改对象的输入
type ObjectInput struct {
	Name         string
	Address      string
	Description  string
	ContactName  string
	ContactPhone string
	ObjectPhoto  string
	ObjectType   domain.ObjectType
}

func (s *AppState) AddObject(ctx context.Context, in ObjectInput) (domain.SiteObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireDirector(); err != nil {
		return domain.SiteObject{}, err
	}
	obj := domain.SiteObject{ID: s.newID(), Visits: []domain.Visit{}}
	applyObjectInput(&obj, in)
	if obj.ObjectType == "" {
		obj.ObjectType = domain.ObjectRegular
	}
	if obj.IsInstallation() {
		obj.InstallationDays = []domain.InstallationDay{}
	}
	if err := validateStruct(obj); err != nil {
		return domain.SiteObject{}, err
	}
	return obj, s.commitObject(ctx, obj, store.OpObject, obj)
}

// UpdateObject 只修改对象自身字段，记录和安装日保持不变
func (s *AppState) UpdateObject(ctx context.Context, id string, in ObjectInput) (domain.SiteObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireDirector(); err != nil {
		return domain.SiteObject{}, err
	}
	obj, err := s.object(id)
	if err != nil {
		return domain.SiteObject{}, err
	}
	applyObjectInput(&obj, in)
	if obj.IsInstallation() && obj.InstallationDays == nil {
		obj.InstallationDays = []domain.InstallationDay{}
	}
	if err := validateStruct(obj); err != nil {
		return domain.SiteObject{}, err
	}
	return obj, s.commitObject(ctx, obj, store.OpObject, obj)
}

// DeleteObject 软删除
func (s *AppState) DeleteObject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireDirector(); err != nil {
		return err
	}
	obj, err := s.object(id)
	if err != nil {
		return err
	}
	obj.Deleted = true
	return s.commitObject(ctx, obj, store.OpObject, obj)
}

func applyObjectInput(obj *domain.SiteObject, in ObjectInput) {
	obj.Name = strings.TrimSpace(in.Name)
	obj.Address = strings.TrimSpace(in.Address)
	obj.Description = in.Description
	obj.ContactName = in.ContactName
	obj.ContactPhone = in.ContactPhone
	if in.ObjectPhoto != "" {
		obj.ObjectPhoto = in.ObjectPhoto
	}
	if in.ObjectType != "" {
		obj.ObjectType = in.ObjectType
	}
}

// Objects 所有对象的快照（含已删除，用于上传）
func (s *AppState) Objects() []domain.SiteObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SiteObject, len(s.objects))
	for i, o := range s.objects {
		out[i] = o.Clone()
	}
	return out
}

// ListObjects 当前角色看到的对象列表
func (s *AppState) ListObjects(query string) []domain.SiteObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	var role domain.Role
	if s.session != nil {
		role = s.session.Role
	}
	return domain.FilterObjects(s.objects, query, role)
}

func (s *AppState) Object(id string) (domain.SiteObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.object(id)
}

// History 对象的记录（倒序，不含已删除）
func (s *AppState) History(objectID string) ([]domain.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, err := s.object(objectID)
	if err != nil {
		return nil, err
	}
	return domain.History(&obj), nil
}

// Controls 当前用户对某条记录可执行的操作
func (s *AppState) Controls(objectID, visitID string) (domain.Controls, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return domain.Controls{}, ErrNotLoggedIn
	}
	obj, err := s.object(objectID)
	if err != nil {
		return domain.Controls{}, err
	}
	idx := obj.FindVisit(visitID)
	if idx < 0 {
		return domain.Controls{}, domain.ErrNotFound
	}
	return domain.VisitControls(s.session.Role, &obj.Visits[idx]), nil
}

// ---- visits ----

// CreateVisit 普通记录（planned / unplanned），只用于 regular 对象
func (s *AppState) CreateVisit(ctx context.Context, objectID string, in domain.VisitInput) (domain.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return domain.Visit{}, ErrNotLoggedIn
	}
	obj, err := s.regularObject(objectID)
	if err != nil {
		return domain.Visit{}, err
	}
	v, err := domain.NewVisit(s.newID(), in, *s.session, s.now())
	if err != nil {
		return domain.Visit{}, err
	}
	obj.Visits = append(obj.Visits, v)
	return v, s.commitObject(ctx, obj, store.OpVisit, v)
}

// CreateTask director 下发任务；短信通知尽力而为，失败不影响保存
func (s *AppState) CreateTask(ctx context.Context, objectID string, in domain.TaskInput) (domain.Visit, error) {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return domain.Visit{}, ErrNotLoggedIn
	}
	obj, err := s.regularObject(objectID)
	if err != nil {
		s.mu.Unlock()
		return domain.Visit{}, err
	}
	task, err := domain.NewTask(s.newID(), in, *s.session, s.now())
	if err != nil {
		s.mu.Unlock()
		return domain.Visit{}, err
	}
	phones := s.phonesFor(task.TaskRecipient)
	s.mu.Unlock()

	// 网络调用不持锁
	if len(phones) > 0 && s.notifier != nil {
		receipts, err := s.notifier.Notify(ctx, phones, obj.Name, task.TaskDescription)
		if err != nil {
			s.logger.Warn("Task SMS notification failed",
				zap.String("object_id", objectID),
				zap.Int("phones", len(phones)),
				zap.Error(err),
			)
		} else {
			task.SmsNotifications = receipts
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	obj, err = s.object(objectID)
	if err != nil {
		return domain.Visit{}, err
	}
	obj.Visits = append(obj.Visits, task)
	return task, s.commitObject(ctx, obj, store.OpTask, task)
}

func (s *AppState) phonesFor(recipient domain.Role) []string {
	roles := domain.NotifyRoles(recipient)
	var phones []string
	for _, u := range s.users {
		if u.Phone == "" {
			continue
		}
		for _, r := range roles {
			if u.Role == r {
				phones = append(phones, u.Phone)
				break
			}
		}
	}
	return phones
}

// CompleteTask 完成任务（只允许一次，只允许匹配接收方的角色）
func (s *AppState) CompleteTask(ctx context.Context, objectID, visitID, comment string, photos []string) (domain.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return domain.Visit{}, ErrNotLoggedIn
	}
	obj, err := s.object(objectID)
	if err != nil {
		return domain.Visit{}, err
	}
	idx := obj.FindVisit(visitID)
	if idx < 0 || obj.Visits[idx].Deleted {
		return domain.Visit{}, domain.ErrNotFound
	}
	if err := domain.CompleteTask(&obj.Visits[idx], *s.session, comment, photos, s.now()); err != nil {
		return domain.Visit{}, err
	}
	v := obj.Visits[idx]
	return v, s.commitObject(ctx, obj, store.OpTask, v)
}

// DeleteVisit director 在任何状态下都可以删除记录（软删除）
func (s *AppState) DeleteVisit(ctx context.Context, objectID, visitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireEditor(); err != nil {
		return err
	}
	obj, err := s.object(objectID)
	if err != nil {
		return err
	}
	idx := obj.FindVisit(visitID)
	if idx < 0 {
		return domain.ErrNotFound
	}
	obj.Visits[idx].Deleted = true
	return s.commitObject(ctx, obj, store.OpVisit, obj.Visits[idx])
}

// DeletePhoto director 删除记录中的单张照片
func (s *AppState) DeletePhoto(ctx context.Context, objectID, visitID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireEditor(); err != nil {
		return err
	}
	obj, err := s.object(objectID)
	if err != nil {
		return err
	}
	idx := obj.FindVisit(visitID)
	if idx < 0 {
		return domain.ErrNotFound
	}
	v := &obj.Visits[idx]
	if index < 0 || index >= len(v.Photos) {
		return domain.Invalid("photo", "photo index out of range")
	}
	v.Photos = append(v.Photos[:index:index], v.Photos[index+1:]...)
	return s.commitObject(ctx, obj, store.OpVisit, *v)
}

// AddInstallationDay 安装对象追加一天的记录
func (s *AppState) AddInstallationDay(ctx context.Context, objectID, comment string, photos []string) (domain.InstallationDay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return domain.InstallationDay{}, ErrNotLoggedIn
	}
	obj, err := s.object(objectID)
	if err != nil {
		return domain.InstallationDay{}, err
	}
	day, err := domain.NewInstallationDay(s.newID(), &obj, comment, photos, *s.session, s.now())
	if err != nil {
		return domain.InstallationDay{}, err
	}
	obj.InstallationDays = append(obj.InstallationDays, day)
	return day, s.commitObject(ctx, obj, store.OpObject, day)
}

// ReplaceAll 用服务端的权威数据替换内存状态（下载后调用，本地镜像已由同步客户端写好）
func (s *AppState) ReplaceAll(objects []domain.SiteObject, users []domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = objects
	if len(users) > 0 {
		s.users = users
	}
	s.objectsStale = false
	s.rosterStale = false
}

// ---- helpers ----

func (s *AppState) requireDirector() error {
	if s.session == nil {
		return ErrNotLoggedIn
	}
	if !domain.CanManage(s.session.Role) {
		return domain.ErrForbidden
	}
	return nil
}

func (s *AppState) requireEditor() error {
	if s.session == nil {
		return ErrNotLoggedIn
	}
	if !domain.CanEditVisit(s.session.Role) {
		return domain.ErrForbidden
	}
	return nil
}

// object 返回深拷贝，修改后通过 commitObject 整体替换
func (s *AppState) object(id string) (domain.SiteObject, error) {
	for _, o := range s.objects {
		if o.ID == id && !o.Deleted {
			return o.Clone(), nil
		}
	}
	return domain.SiteObject{}, domain.ErrNotFound
}

func (s *AppState) regularObject(id string) (domain.SiteObject, error) {
	obj, err := s.object(id)
	if err != nil {
		return obj, err
	}
	if obj.IsInstallation() {
		return obj, domain.Invalid("objectType", "installation objects record installation days, not visits")
	}
	return obj, nil
}

// commitObject 替换内存中的对象，整体写入本地镜像，记录待同步操作，后台自动保存。
// 本地写入失败时内存状态保留，返回 PersistError。
func (s *AppState) commitObject(ctx context.Context, obj domain.SiteObject, op store.OpType, payload any) error {
	replaced := false
	for i := range s.objects {
		if s.objects[i].ID == obj.ID {
			s.objects[i] = obj
			replaced = true
			break
		}
	}
	if !replaced {
		s.objects = append(s.objects, obj)
	}

	var persistErr error
	if err := s.store.SaveObjects(ctx, s.objects); err != nil {
		s.objectsStale = true
		s.logger.Error("Failed to save objects locally", zap.String("object_id", obj.ID), zap.Error(err))
		persistErr = &PersistError{Err: err}
	} else {
		s.objectsStale = false
	}

	if _, err := s.store.EnqueuePending(ctx, op, map[string]any{"objectId": obj.ID, "item": payload}); err != nil {
		s.logger.Warn("Failed to enqueue pending operation", zap.String("type", string(op)), zap.Error(err))
	}

	if s.remote != nil && s.scheduler != nil {
		snapshot := obj.Clone()
		s.scheduler.Submit("autosave-object:"+obj.ID, func(ctx context.Context) error {
			if res := s.remote.Upload(ctx, []domain.SiteObject{snapshot}, nil); !res.OK() {
				return errors.New(res.Message)
			}
			return nil
		})
	}
	return persistErr
}

func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return domain.Invalid(lowerFirst(fe.Field()), fieldMessage(fe))
		}
		return domain.Invalid("", err.Error())
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "is invalid"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
