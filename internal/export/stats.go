package export

import (
	"sort"
	"time"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
)

// SmsCostPerMessage 每条短信的估算费用（卢布）
const SmsCostPerMessage = 2

const statsTopN = 10

type ObjectSmsCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type RecentSms struct {
	Date       string `json:"date"`
	Object     string `json:"object"`
	Recipients int    `json:"recipients"`
}

// SmsStats 短信发送统计，只统计状态为 sent 的回执
type SmsStats struct {
	TotalSent     int              `json:"totalSent"`
	LastMonth     int              `json:"lastMonth"`
	EstimatedCost int              `json:"estimatedCost"`
	ByObject      []ObjectSmsCount `json:"byObject"`
	Recent        []RecentSms      `json:"recentMessages"`
}

// ComputeSmsStats 按任务日期统计；"最近一个月"以 now 往前推一个自然月为界
func ComputeSmsStats(objects []domain.SiteObject, now time.Time) SmsStats {
	since := now.AddDate(0, -1, 0)
	stats := SmsStats{ByObject: []ObjectSmsCount{}, Recent: []RecentSms{}}
	counts := map[string]int{}
	var order []string
	type recent struct {
		RecentSms
		at time.Time
	}
	var recents []recent

	for _, o := range objects {
		for _, v := range o.Visits {
			if v.Deleted || len(v.SmsNotifications) == 0 {
				continue
			}
			sent := 0
			for _, n := range v.SmsNotifications {
				if n.Status == domain.SmsSent {
					sent++
				}
			}
			at := visitTime(v, now.Location())
			stats.TotalSent += sent
			if !at.Before(since) {
				stats.LastMonth += sent
			}
			if _, ok := counts[o.Name]; !ok {
				order = append(order, o.Name)
			}
			counts[o.Name] += sent
			if sent > 0 {
				recents = append(recents, recent{RecentSms: RecentSms{Date: v.Date, Object: o.Name, Recipients: sent}, at: at})
			}
		}
	}

	for _, name := range order {
		stats.ByObject = append(stats.ByObject, ObjectSmsCount{Name: name, Count: counts[name]})
	}
	sort.SliceStable(stats.ByObject, func(i, j int) bool { return stats.ByObject[i].Count > stats.ByObject[j].Count })
	if len(stats.ByObject) > statsTopN {
		stats.ByObject = stats.ByObject[:statsTopN]
	}

	sort.SliceStable(recents, func(i, j int) bool { return recents[i].at.After(recents[j].at) })
	for i, r := range recents {
		if i == statsTopN {
			break
		}
		stats.Recent = append(stats.Recent, r.RecentSms)
	}
	stats.EstimatedCost = stats.TotalSent * SmsCostPerMessage
	return stats
}

func visitTime(v domain.Visit, loc *time.Location) time.Time {
	if t, err := time.ParseInLocation(domain.DateLayout, v.Date, loc); err == nil {
		return t
	}
	return v.CreatedTime()
}

// Summary 导出前的概要
type Summary struct {
	Objects int `json:"objects"`
	Visits  int `json:"visits"`
	Photos  int `json:"photos"`
}

func Summarize(objects []domain.SiteObject) Summary {
	var s Summary
	for i := range objects {
		o := &objects[i]
		if o.Deleted {
			continue
		}
		s.Objects++
		s.Visits += len(domain.History(o))
		s.Photos += domain.CountPhotos(o)
	}
	return s
}
