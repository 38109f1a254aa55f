package repository

import (
	"sort"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
)

// MergeObject 合并同一个 id 的服务端对象和客户端上传的对象：
//   - 客户端非空的字段覆盖服务端（包括封面照片）
//   - deleted 一旦为 true 不会被撤销
//   - visits 按 id 取并集；同 id 时客户端版本优先，
//     除非服务端版本是已完成任务而客户端版本未完成
//   - visits 按 createdAt 排序，相同时按 id
//   - installationDays 按 id 取并集，按 dayNumber 排序
func MergeObject(server, incoming domain.SiteObject) domain.SiteObject {
	out := server.Clone()

	overwrite(&out.Name, incoming.Name)
	overwrite(&out.Address, incoming.Address)
	overwrite(&out.Description, incoming.Description)
	overwrite(&out.ContactName, incoming.ContactName)
	overwrite(&out.ContactPhone, incoming.ContactPhone)
	overwrite(&out.ObjectPhoto, incoming.ObjectPhoto)
	if incoming.ObjectType != "" {
		out.ObjectType = incoming.ObjectType
	}
	out.Deleted = server.Deleted || incoming.Deleted

	out.Visits = mergeVisits(server.Visits, incoming.Visits)
	if server.InstallationDays != nil || incoming.InstallationDays != nil {
		out.InstallationDays = mergeDays(server.InstallationDays, incoming.InstallationDays)
	}
	return out
}

// MergeObjects 把上传的对象合并进服务端列表：未知 id 追加，已知 id 调用 MergeObject。
// 服务端原有顺序保持不变。
func MergeObjects(server, incoming []domain.SiteObject) []domain.SiteObject {
	out := make([]domain.SiteObject, 0, len(server)+len(incoming))
	index := make(map[string]int, len(server))
	for _, o := range server {
		index[o.ID] = len(out)
		out = append(out, o.Clone())
	}
	for _, o := range incoming {
		if o.ID == "" {
			continue
		}
		if i, ok := index[o.ID]; ok {
			out[i] = MergeObject(out[i], o)
			continue
		}
		o = o.Clone()
		o.Visits = mergeVisits(nil, o.Visits)
		index[o.ID] = len(out)
		out = append(out, o)
	}
	return out
}

func overwrite(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeVisits(server, incoming []domain.Visit) []domain.Visit {
	byID := make(map[string]domain.Visit, len(server)+len(incoming))
	for _, v := range server {
		byID[v.ID] = v.Clone()
	}
	for _, v := range incoming {
		cur, ok := byID[v.ID]
		if !ok {
			byID[v.ID] = v.Clone()
			continue
		}
		byID[v.ID] = mergeVisit(cur, v)
	}

	out := make([]domain.Visit, 0, len(byID))
	for _, v := range byID {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// mergeVisit 任务完成是终态：未完成的客户端副本不能覆盖已完成的服务端版本
func mergeVisit(server, incoming domain.Visit) domain.Visit {
	var out domain.Visit
	if server.TaskCompleted && !incoming.TaskCompleted {
		out = server.Clone()
	} else {
		out = incoming.Clone()
		if len(out.SmsNotifications) == 0 && len(server.SmsNotifications) > 0 {
			out.SmsNotifications = append([]domain.SmsNotification(nil), server.SmsNotifications...)
		}
	}
	out.Deleted = server.Deleted || incoming.Deleted
	return out
}

// mergeDays 按 id 合并后按 (createdAt, dayNumber, id) 排序并重新编号 1..n，
// 两台设备离线各自追加的同号日期会排成前后两天
func mergeDays(server, incoming []domain.InstallationDay) []domain.InstallationDay {
	out := make([]domain.InstallationDay, 0, len(server)+len(incoming))
	seen := make(map[string]int, len(server))
	for _, d := range server {
		seen[d.ID] = len(out)
		out = append(out, d)
	}
	for _, d := range incoming {
		if i, ok := seen[d.ID]; ok {
			out[i] = d
			continue
		}
		seen[d.ID] = len(out)
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		if a.DayNumber != b.DayNumber {
			return a.DayNumber < b.DayNumber
		}
		return a.ID < b.ID
	})
	for i := range out {
		out[i].DayNumber = i + 1
	}
	return out
}
