package domain

import "fmt"

// Role 用户角色（封闭集合）
type Role string

const (
	RoleTechnician Role = "technician"
	RoleDirector   Role = "director"
	RoleSupervisor Role = "supervisor"
)

// ParseRole 解析角色字符串，未知角色返回错误
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleTechnician, RoleDirector, RoleSupervisor:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Valid 是否为已知角色
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// ValidRecipient 任务接收方只允许 technician / director；空值表示未设置（兼容旧数据）
func ValidRecipient(r Role) bool {
	return r == "" || r == RoleTechnician || r == RoleDirector
}

// CanCompleteTask 判断 role 能否完成接收方为 recipient 的任务。
// recipient = director 时只有 director；其余（含未设置）只有 technician / supervisor。
func CanCompleteTask(role, recipient Role) bool {
	if recipient == RoleDirector {
		return role == RoleDirector
	}
	return role == RoleTechnician || role == RoleSupervisor
}

// CanEditVisit 只有 director 可以编辑或删除已存在的记录（含单张照片）
func CanEditVisit(role Role) bool {
	return role == RoleDirector
}

// CanManage 用户、对象的增删改以及任务下发只属于 director
func CanManage(role Role) bool {
	return role == RoleDirector
}

// NotifyRoles 任务通知的目标角色
func NotifyRoles(recipient Role) []Role {
	if recipient == RoleDirector {
		return []Role{RoleDirector}
	}
	return []Role{RoleTechnician, RoleSupervisor}
}
