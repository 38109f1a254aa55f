package domain

import (
	"sort"
	"strings"
)

// FilterObjects 对象列表视图：隐藏已删除对象，按名称或地址做不区分大小写的子串匹配，
// 当前角色有待完成任务的对象排在前面，其余按名称排序
func FilterObjects(objects []SiteObject, query string, role Role) []SiteObject {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]SiteObject, 0, len(objects))
	for _, o := range objects {
		if o.Deleted {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(o.Name), q) &&
			!strings.Contains(strings.ToLower(o.Address), q) {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].HasOpenTaskFor(role), out[j].HasOpenTaskFor(role)
		if pi != pj {
			return pi
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// History 对象的记录时间线：隐藏已删除记录，按创建时间倒序
func History(obj *SiteObject) []Visit {
	out := make([]Visit, 0, len(obj.Visits))
	for _, v := range obj.Visits {
		if !v.Deleted {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out
}

// CountPhotos 统计对象上未删除记录和安装日的照片数量
func CountPhotos(obj *SiteObject) int {
	n := 0
	for _, v := range obj.Visits {
		if !v.Deleted {
			n += len(v.Photos)
		}
	}
	for _, d := range obj.InstallationDays {
		n += len(d.Photos)
	}
	return n
}
