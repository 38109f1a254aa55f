package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// ObjectType 对象类型
type ObjectType string

const (
	ObjectRegular      ObjectType = "regular"
	ObjectInstallation ObjectType = "installation"
)

// VisitKind 记录类型
type VisitKind string

const (
	VisitPlanned   VisitKind = "planned"
	VisitUnplanned VisitKind = "unplanned"
	VisitTask      VisitKind = "task"
)

// SmsStatus 短信回执状态
type SmsStatus string

const (
	SmsSent   SmsStatus = "sent"
	SmsFailed SmsStatus = "failed"
	SmsQueued SmsStatus = "queued"
)

// DateLayout 记录日期格式（YYYY-MM-DD）
const DateLayout = "2006-01-02"

// User 登录用户（密码按原样保存，与现有同步端点保持兼容）
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username" validate:"required"`
	Password  string `json:"password" validate:"required"`
	FullName  string `json:"fullName" validate:"required"`
	Phone     string `json:"phone,omitempty"`
	Role      Role   `json:"role" validate:"required,oneof=technician director supervisor"`
	CreatedAt string `json:"createdAt"`
}

// SiteObject 维保对象
type SiteObject struct {
	ID               string            `json:"id"`
	Name             string            `json:"name" validate:"required"`
	Address          string            `json:"address" validate:"required"`
	Description      string            `json:"description,omitempty"`
	ContactName      string            `json:"contactName,omitempty"`
	ContactPhone     string            `json:"contactPhone,omitempty"`
	ObjectPhoto      string            `json:"objectPhoto,omitempty"`
	ObjectType       ObjectType        `json:"objectType,omitempty"`
	Visits           []Visit           `json:"visits"`
	InstallationDays []InstallationDay `json:"installationDays,omitempty"`
	Deleted          bool              `json:"deleted,omitempty"`
}

// Visit 一次到场记录或任务
type Visit struct {
	ID               string            `json:"id"`
	Date             string            `json:"date"`
	Type             VisitKind         `json:"type"`
	Comment          string            `json:"comment"`
	Photos           []string          `json:"photos"`
	CreatedBy        string            `json:"createdBy"`
	CreatedByRole    Role              `json:"createdByRole,omitempty"`
	CreatedAt        string            `json:"createdAt"`
	TaskDescription  string            `json:"taskDescription,omitempty"`
	TaskRecipient    Role              `json:"taskRecipient,omitempty"`
	TaskCompleted    bool              `json:"taskCompleted,omitempty"`
	TaskCompletedBy  string            `json:"taskCompletedBy,omitempty"`
	TaskCompletedAt  string            `json:"taskCompletedAt,omitempty"`
	SmsNotifications []SmsNotification `json:"smsNotifications,omitempty"`
	Deleted          bool              `json:"deleted,omitempty"`
}

// InstallationDay 安装对象的单日工作记录（只追加）
type InstallationDay struct {
	ID        string   `json:"id"`
	DayNumber int      `json:"dayNumber"`
	Date      string   `json:"date"`
	Comment   string   `json:"comment"`
	Photos    []string `json:"photos"`
	CreatedBy string   `json:"createdBy"`
	CreatedAt string   `json:"createdAt"`
}

// SmsNotification 短信发送回执，挂在任务记录上
type SmsNotification struct {
	Phone     string     `json:"phone"`
	Status    SmsStatus  `json:"status"`
	MessageID ProviderID `json:"message_id,omitempty"`
	Cost      float64    `json:"cost,omitempty"`
	Message   string     `json:"message,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Session 当前登录会话
type Session struct {
	Role Role   `json:"role"`
	Name string `json:"name"`
}

// ProviderID 短信服务商的消息 ID；不同服务商返回数字或字符串，两者都接受
type ProviderID string

func (p *ProviderID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = ProviderID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*p = ProviderID(n.String())
	return nil
}

func (p ProviderID) MarshalJSON() ([]byte, error) {
	s := string(p)
	if s != "" && strings.Trim(s, "0123456789") == "" {
		return []byte(s), nil
	}
	return json.Marshal(s)
}

// IsInstallation 是否为安装类对象（旧数据缺省为 regular）
func (o *SiteObject) IsInstallation() bool {
	return o.ObjectType == ObjectInstallation
}

// FindVisit 按 ID 查找记录下标
func (o *SiteObject) FindVisit(id string) int {
	for i := range o.Visits {
		if o.Visits[i].ID == id {
			return i
		}
	}
	return -1
}

// HasOpenTaskFor 对象上是否存在 role 可以完成的未完成任务
func (o *SiteObject) HasOpenTaskFor(role Role) bool {
	for _, v := range o.Visits {
		if v.Deleted || v.Type != VisitTask || v.TaskCompleted {
			continue
		}
		if CanCompleteTask(role, v.TaskRecipient) {
			return true
		}
	}
	return false
}

// Clone 深拷贝，保证变更时不共享底层切片
func (o SiteObject) Clone() SiteObject {
	out := o
	out.Visits = make([]Visit, len(o.Visits))
	for i, v := range o.Visits {
		out.Visits[i] = v.Clone()
	}
	if o.InstallationDays != nil {
		out.InstallationDays = make([]InstallationDay, len(o.InstallationDays))
		for i, d := range o.InstallationDays {
			d.Photos = append([]string(nil), d.Photos...)
			out.InstallationDays[i] = d
		}
	}
	return out
}

// Clone 深拷贝
func (v Visit) Clone() Visit {
	out := v
	out.Photos = append([]string{}, v.Photos...)
	if v.SmsNotifications != nil {
		out.SmsNotifications = append([]SmsNotification(nil), v.SmsNotifications...)
	}
	return out
}

// CreatedTime 解析 createdAt；解析失败返回零值
func (v *Visit) CreatedTime() time.Time {
	t, err := time.Parse(time.RFC3339Nano, v.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Timestamp 统一的 ISO 时间戳格式
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// DefaultRoster 首次启动时的内置账号
func DefaultRoster(now time.Time) []User {
	ts := Timestamp(now)
	return []User{
		{ID: "1", Username: "director", Password: "director", FullName: "Директор", Role: RoleDirector, CreatedAt: ts},
		{ID: "2", Username: "tech", Password: "tech", FullName: "Техник", Role: RoleTechnician, CreatedAt: ts},
	}
}
