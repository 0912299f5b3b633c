package service

import "time"

// Period 一个左闭右闭的归集/结算窗口，边界按 UTC 日期对齐
type Period struct {
	Start time.Time
	End   time.Time
}

// 周期对齐到日历，避免依赖"用户注册时间"这类漂移锚点:
// - PeriodDays >= 28 按自然月
// - 其他 (双周) 按半月: 1-15 号 / 16-月末

// CurrentPeriod 返回 ref 所在的周期
func CurrentPeriod(periodDays int, ref time.Time) Period {
	ref = ref.UTC()
	y, m, d := ref.Date()

	if periodDays >= 28 {
		start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, -1)
		return Period{Start: start, End: end}
	}

	if d <= 15 {
		start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		return Period{Start: start, End: time.Date(y, m, 15, 0, 0, 0, 0, time.UTC)}
	}
	start := time.Date(y, m, 16, 0, 0, 0, 0, time.UTC)
	end := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1)
	return Period{Start: start, End: end}
}

// PreviousPeriod 返回 ref 所在周期的上一个周期 (定时任务收口的对象)
func PreviousPeriod(periodDays int, ref time.Time) Period {
	cur := CurrentPeriod(periodDays, ref)
	return CurrentPeriod(periodDays, cur.Start.AddDate(0, 0, -1))
}

// Contains 日期是否落在周期内 (只比较日期部分)
func (p Period) Contains(t time.Time) bool {
	d := t.UTC().Truncate(24 * time.Hour)
	return !d.Before(p.Start) && !d.After(p.End.Add(24*time.Hour-time.Nanosecond))
}
