package domain

import (
	"strings"
	"time"
)

// 记录卡片上的类型标签
const (
	BadgePlanned       = "Planned"
	BadgeUnplanned     = "Unplanned"
	BadgeTask          = "Task"
	BadgeTaskCompleted = "Task completed"
)

// Controls 某个角色查看某条记录时可用的操作
type Controls struct {
	Badge       string `json:"badge"`
	CanComplete bool   `json:"can_complete"` // "Complete task"
	CanEdit     bool   `json:"can_edit"`     // "Edit"
	CanDelete   bool   `json:"can_delete"`
	Locked      bool   `json:"locked"` // "Protected"
}

// Badge 记录的类型标签
func Badge(v *Visit) string {
	switch v.Type {
	case VisitPlanned:
		return BadgePlanned
	case VisitTask:
		if v.TaskCompleted {
			return BadgeTaskCompleted
		}
		return BadgeTask
	default:
		return BadgeUnplanned
	}
}

// VisitControls 计算 role 对记录 v 的可用操作
func VisitControls(role Role, v *Visit) Controls {
	c := Controls{Badge: Badge(v)}
	c.CanEdit = CanEditVisit(role)
	c.CanDelete = CanEditVisit(role)
	// director 查看发给技术人员的任务时只有 Edit
	if v.Type == VisitTask && !v.TaskCompleted && CanCompleteTask(role, v.TaskRecipient) {
		c.CanComplete = true
	}
	c.Locked = !c.CanComplete && !c.CanEdit
	return c
}

// VisitInput 新建普通记录的输入
type VisitInput struct {
	Type    VisitKind
	Comment string
	Media   []string
	Date    string // 为空时取当天
}

// NewVisit 校验输入并构造普通记录（planned / unplanned）；照片或视频至少一个
func NewVisit(id string, in VisitInput, author Session, now time.Time) (Visit, error) {
	if in.Type != VisitPlanned && in.Type != VisitUnplanned {
		return Visit{}, Invalid("type", "visit type must be planned or unplanned")
	}
	if strings.TrimSpace(in.Comment) == "" {
		return Visit{}, Invalid("comment", "comment is required")
	}
	if len(in.Media) == 0 {
		return Visit{}, Invalid("photos", "at least one photo or video is required")
	}
	date := in.Date
	if date == "" {
		date = now.Format(DateLayout)
	}
	return Visit{
		ID:            id,
		Date:          date,
		Type:          in.Type,
		Comment:       in.Comment,
		Photos:        append([]string{}, in.Media...),
		CreatedBy:     author.Name,
		CreatedByRole: author.Role,
		CreatedAt:     Timestamp(now),
	}, nil
}

// TaskInput 下发任务的输入
type TaskInput struct {
	Description string
	Recipient   Role
	Date        string
}

// NewTask 构造任务记录：comment 为空、photos 为空、taskCompleted=false
func NewTask(id string, in TaskInput, author Session, now time.Time) (Visit, error) {
	if !CanManage(author.Role) {
		return Visit{}, ErrForbidden
	}
	if strings.TrimSpace(in.Description) == "" {
		return Visit{}, Invalid("taskDescription", "task description is required")
	}
	recipient := in.Recipient
	if recipient == "" {
		recipient = RoleTechnician
	}
	if !ValidRecipient(recipient) {
		return Visit{}, Invalid("taskRecipient", "recipient must be technician or director")
	}
	date := in.Date
	if date == "" {
		date = now.Format(DateLayout)
	}
	return Visit{
		ID:              id,
		Date:            date,
		Type:            VisitTask,
		Comment:         "",
		Photos:          []string{},
		CreatedBy:       author.Name,
		CreatedByRole:   author.Role,
		CreatedAt:       Timestamp(now),
		TaskDescription: in.Description,
		TaskRecipient:   recipient,
		TaskCompleted:   false,
	}, nil
}

// CompleteTask 完成任务：覆盖 comment 和 photos，设置完成人和时间。只允许一次。
func CompleteTask(v *Visit, actor Session, comment string, photos []string, now time.Time) error {
	if v.Type != VisitTask {
		return Invalid("type", "only task visits can be completed")
	}
	if v.TaskCompleted {
		return ErrTaskCompleted
	}
	if !CanCompleteTask(actor.Role, v.TaskRecipient) {
		return ErrForbidden
	}
	if strings.TrimSpace(comment) == "" {
		return Invalid("comment", "comment is required")
	}
	if len(photos) == 0 {
		return Invalid("photos", "at least one photo is required")
	}
	v.Comment = comment
	v.Photos = append([]string{}, photos...)
	v.TaskCompleted = true
	v.TaskCompletedBy = actor.Name
	v.TaskCompletedAt = Timestamp(now)
	return nil
}

// NewInstallationDay 追加安装日记录，dayNumber = 已有数量 + 1
func NewInstallationDay(id string, obj *SiteObject, comment string, photos []string, author Session, now time.Time) (InstallationDay, error) {
	if !obj.IsInstallation() {
		return InstallationDay{}, Invalid("objectType", "installation days are only for installation objects")
	}
	if strings.TrimSpace(comment) == "" {
		return InstallationDay{}, Invalid("comment", "comment is required")
	}
	if len(photos) == 0 {
		return InstallationDay{}, Invalid("photos", "at least one photo is required")
	}
	return InstallationDay{
		ID:        id,
		DayNumber: len(obj.InstallationDays) + 1,
		Date:      now.Format(DateLayout),
		Comment:   comment,
		Photos:    append([]string{}, photos...),
		CreatedBy: author.Name,
		CreatedAt: Timestamp(now),
	}, nil
}
