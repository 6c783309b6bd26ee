// Package schedule は施設の営業時間とタイムゾーンの判定を提供する。
// 「日」や「月」の境界は施設タイムゾーンのローカル概念であり、
// 日付演算はすべてこのパッケージを通して行う。
package schedule

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DayHours は1曜日分の営業時間を表す。時刻は0時からの経過分で保持する。
type DayHours struct {
	Open     bool
	OpenMin  int
	CloseMin int
}

// Schedule は施設タイムゾーンと曜日ごとの営業時間を保持する。
// 生成後は変更されず、並行アクセスに対して安全。
type Schedule struct {
	loc   *time.Location
	days  [7]DayHours
	grace time.Duration
}

// New はタイムゾーン名と曜日ごとの営業時間指定からScheduleを生成する。
// 指定は "06:00-23:00" 形式、または休館日を表す "closed"。
// graceは開館時刻からlate判定までの猶予。
func New(timezone string, specs map[time.Weekday]string, grace time.Duration) (*Schedule, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("タイムゾーンの読み込みに失敗しました（%s): %w", timezone, err)
	}

	s := &Schedule{loc: loc, grace: grace}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		spec, ok := specs[wd]
		if !ok || spec == "" {
			spec = "closed"
		}
		hours, err := parseSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("営業時間指定の解析に失敗しました（%s=%q): %w", wd, spec, err)
		}
		s.days[int(wd)] = hours
	}
	return s, nil
}

// parseSpec は "HH:MM-HH:MM" または "closed" を解析する。
func parseSpec(spec string) (DayHours, error) {
	spec = strings.TrimSpace(strings.ToLower(spec))
	if spec == "closed" {
		return DayHours{}, nil
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return DayHours{}, fmt.Errorf("開始-終了の形式ではありません")
	}
	open, err := ParseClock(parts[0])
	if err != nil {
		return DayHours{}, err
	}
	closeAt, err := ParseClock(parts[1])
	if err != nil {
		return DayHours{}, err
	}
	if closeAt <= open {
		return DayHours{}, fmt.Errorf("終了時刻が開始時刻以前です")
	}
	return DayHours{Open: true, OpenMin: open, CloseMin: closeAt}, nil
}

// ParseClock は "HH:MM" 形式のローカル時刻を0時からの経過分に変換する。
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("時刻はHH:MM形式で指定してください: %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("時が不正です: %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("分が不正です: %q", s)
	}
	return h*60 + m, nil
}

// Location は施設タイムゾーンを返す。
func (s *Schedule) Location() *time.Location {
	return s.loc
}

// HoursFor は指定曜日の営業時間を返す。
func (s *Schedule) HoursFor(wd time.Weekday) DayHours {
	return s.days[int(wd)]
}

// minuteOfDay はローカル時刻の0時からの経過分を返す。
func (s *Schedule) minuteOfDay(t time.Time) int {
	lt := t.In(s.loc)
	return lt.Hour()*60 + lt.Minute()
}

// IsOpenAt は指定時刻に施設が営業中かを判定する。
// 営業時間外の場合は拒否メッセージに使える理由文字列を返す。
func (s *Schedule) IsOpenAt(t time.Time) (bool, string) {
	lt := t.In(s.loc)
	hours := s.days[int(lt.Weekday())]
	if !hours.Open {
		return false, "本日は休館日です"
	}
	min := lt.Hour()*60 + lt.Minute()
	if min < hours.OpenMin || min >= hours.CloseMin {
		return false, fmt.Sprintf("営業時間は%sから%sまでです",
			formatClock(hours.OpenMin), formatClock(hours.CloseMin))
	}
	return true, ""
}

// IsLateAt は指定時刻の入館がlate扱いになるかを返す。
// 開館時刻から猶予時間を超えて経過した入館をlateと判定する。
func (s *Schedule) IsLateAt(t time.Time) bool {
	lt := t.In(s.loc)
	hours := s.days[int(lt.Weekday())]
	if !hours.Open {
		return false
	}
	graceMin := int(s.grace.Minutes())
	return s.minuteOfDay(t) > hours.OpenMin+graceMin
}

// IsClosedDay は指定時刻のローカル日付が休館日かを返す。
func (s *Schedule) IsClosedDay(t time.Time) bool {
	lt := t.In(s.loc)
	return !s.days[int(lt.Weekday())].Open
}

// DayKey はローカル日付キー（YYYY-MM-DD）を返す。
// 出席セッションの1日1件制約のキーとして使用する。
func (s *Schedule) DayKey(t time.Time) string {
	return t.In(s.loc).Format("2006-01-02")
}

// SameLocalDay は2つの時刻が同一ローカル日付かを返す。
func (s *Schedule) SameLocalDay(a, b time.Time) bool {
	return s.DayKey(a) == s.DayKey(b)
}

// SameLocalMonth は2つの時刻が同一ローカル年月かを返す。
// 月間利用回数のリセット判定に使用する。
func (s *Schedule) SameLocalMonth(a, b time.Time) bool {
	la, lb := a.In(s.loc), b.In(s.loc)
	return la.Year() == lb.Year() && la.Month() == lb.Month()
}

// DaysUntil はfromのローカル日付からtargetのローカル日付までの日数を返す。
// 同日なら0、翌日なら1。targetが過去なら負値。
// 夏時間で1日が24時間でないタイムゾーンでも丸めで正しい日数になる。
func (s *Schedule) DaysUntil(from, target time.Time) int {
	lf := s.startOfDay(from)
	lt := s.startOfDay(target)
	return int(math.Round(lt.Sub(lf).Hours() / 24))
}

// DayWindow はtのローカル日付からoffsetDays先の1日分の半開区間[from, to)を返す。
// 満了事前通知の「ちょうどN日先」の判定窓として使用する。
func (s *Schedule) DayWindow(t time.Time, offsetDays int) (time.Time, time.Time) {
	from := s.startOfDay(t).AddDate(0, 0, offsetDays)
	return from, from.AddDate(0, 0, 1)
}

// startOfDay はローカル日付の0時を返す。
func (s *Schedule) startOfDay(t time.Time) time.Time {
	lt := t.In(s.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, s.loc)
}

// MinuteOfDayAt は指定時刻のローカル0時からの経過分を返す。
// 定時実行ジョブの発火判定に使用する。
func (s *Schedule) MinuteOfDayAt(t time.Time) int {
	return s.minuteOfDay(t)
}

func formatClock(min int) string {
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}
