package schedule

import (
	"testing"
	"time"
)

// testSpecs は平日6時-23時、日曜休館のテスト用営業時間。
func testSpecs() map[time.Weekday]string {
	specs := make(map[time.Weekday]string)
	for wd := time.Monday; wd <= time.Saturday; wd++ {
		specs[wd] = "06:00-23:00"
	}
	specs[time.Sunday] = "closed"
	return specs
}

func newTestSchedule(t *testing.T) *Schedule {
	t.Helper()
	s, err := New("Asia/Tokyo", testSpecs(), 15*time.Minute)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return s
}

// jst はテスト用にJSTの時刻を組み立てる。
func jst(t *testing.T, year int, month time.Month, day, hour, min int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	return time.Date(year, month, day, hour, min, 0, 0, loc)
}

// TestNew_InvalidTimezone は不明なタイムゾーンがエラーになることをテストする。
func TestNew_InvalidTimezone(t *testing.T) {
	_, err := New("Mars/Olympus", testSpecs(), 0)
	if err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

// TestNew_InvalidSpec は解析できない営業時間指定がエラーになることをテストする。
func TestNew_InvalidSpec(t *testing.T) {
	specs := testSpecs()
	specs[time.Monday] = "25:00-26:00"
	if _, err := New("Asia/Tokyo", specs, 0); err == nil {
		t.Fatal("expected error for invalid hour")
	}

	specs[time.Monday] = "10:00-09:00"
	if _, err := New("Asia/Tokyo", specs, 0); err == nil {
		t.Fatal("expected error for close before open")
	}
}

// TestParseClock はHH:MM形式の解析をテストする。
func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"06:00", 360, false},
		{"23:00", 1380, false},
		{"00:00", 0, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"noon", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseClock(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClock(%q) returned error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseClock(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// TestIsOpenAt_Boundaries は営業時間の境界判定をテストする。
// 開館時刻ちょうどは営業中、閉館時刻ちょうどは営業時間外。
func TestIsOpenAt_Boundaries(t *testing.T) {
	s := newTestSchedule(t)

	// 2026-08-31は月曜
	if open, _ := s.IsOpenAt(jst(t, 2026, 8, 31, 6, 0)); !open {
		t.Error("opening time itself should be open")
	}
	if open, _ := s.IsOpenAt(jst(t, 2026, 8, 31, 5, 59)); open {
		t.Error("one minute before opening should be closed")
	}
	if open, _ := s.IsOpenAt(jst(t, 2026, 8, 31, 22, 59)); !open {
		t.Error("one minute before closing should be open")
	}
	if open, reason := s.IsOpenAt(jst(t, 2026, 8, 31, 23, 0)); open {
		t.Error("closing time itself should be closed")
	} else if reason == "" {
		t.Error("expected non-empty reason when closed")
	}
}

// TestIsOpenAt_ClosedDay は休館日の判定をテストする。
func TestIsOpenAt_ClosedDay(t *testing.T) {
	s := newTestSchedule(t)

	// 2026-08-30は日曜
	open, reason := s.IsOpenAt(jst(t, 2026, 8, 30, 10, 0))
	if open {
		t.Fatal("Sunday should be closed")
	}
	if reason != "本日は休館日です" {
		t.Errorf("reason = %q", reason)
	}
	if !s.IsClosedDay(jst(t, 2026, 8, 30, 10, 0)) {
		t.Error("IsClosedDay should report Sunday as closed")
	}
	if s.IsClosedDay(jst(t, 2026, 8, 31, 10, 0)) {
		t.Error("IsClosedDay should report Monday as open")
	}
}

// TestIsLateAt は開館猶予時間によるlate判定をテストする。
func TestIsLateAt(t *testing.T) {
	s := newTestSchedule(t)

	// 開館6:00、猶予15分。6:15まではon_time、6:16からはlate
	if s.IsLateAt(jst(t, 2026, 8, 31, 6, 10)) {
		t.Error("6:10 should be on time")
	}
	if s.IsLateAt(jst(t, 2026, 8, 31, 6, 15)) {
		t.Error("exactly at grace boundary should be on time")
	}
	if !s.IsLateAt(jst(t, 2026, 8, 31, 6, 16)) {
		t.Error("6:16 should be late")
	}
	// 休館日はlate判定しない
	if s.IsLateAt(jst(t, 2026, 8, 30, 12, 0)) {
		t.Error("closed day should not be late")
	}
}

// TestDayKey はタイムゾーンをまたぐ日付キーの計算をテストする。
func TestDayKey(t *testing.T) {
	s := newTestSchedule(t)

	// UTC 2026-08-30 20:00 はJSTでは8/31 5:00
	utc := time.Date(2026, 8, 30, 20, 0, 0, 0, time.UTC)
	if got := s.DayKey(utc); got != "2026-08-31" {
		t.Errorf("DayKey = %q, want %q", got, "2026-08-31")
	}

	if !s.SameLocalDay(utc, jst(t, 2026, 8, 31, 23, 0)) {
		t.Error("UTC evening and JST next day evening should share local date")
	}
}

// TestSameLocalMonth は月境界の判定をテストする。
func TestSameLocalMonth(t *testing.T) {
	s := newTestSchedule(t)

	a := jst(t, 2026, 8, 31, 23, 59)
	b := jst(t, 2026, 9, 1, 0, 0)
	if s.SameLocalMonth(a, b) {
		t.Error("23:59 on 8/31 and 0:00 on 9/1 are different local months")
	}
	if !s.SameLocalMonth(a, jst(t, 2026, 8, 1, 0, 0)) {
		t.Error("first and last day of August are the same local month")
	}

	// UTCでは前月でもローカルでは当月になるケース
	utc := time.Date(2026, 8, 31, 20, 0, 0, 0, time.UTC) // JST 9/1 5:00
	if s.SameLocalMonth(utc, a) {
		t.Error("UTC 8/31 20:00 is September in JST")
	}
}

// TestDaysUntil は日数計算をテストする。
func TestDaysUntil(t *testing.T) {
	s := newTestSchedule(t)

	from := jst(t, 2026, 8, 29, 23, 0)
	if got := s.DaysUntil(from, jst(t, 2026, 8, 29, 1, 0)); got != 0 {
		t.Errorf("same day DaysUntil = %d, want 0", got)
	}
	if got := s.DaysUntil(from, jst(t, 2026, 8, 30, 0, 30)); got != 1 {
		t.Errorf("next day DaysUntil = %d, want 1", got)
	}
	if got := s.DaysUntil(from, jst(t, 2026, 8, 26, 12, 0)); got != -3 {
		t.Errorf("past DaysUntil = %d, want -3", got)
	}
}

// TestDayWindow はN日先1日分の半開区間をテストする。
func TestDayWindow(t *testing.T) {
	s := newTestSchedule(t)

	from, to := s.DayWindow(jst(t, 2026, 8, 29, 15, 30), 3)
	wantFrom := jst(t, 2026, 9, 1, 0, 0)
	wantTo := jst(t, 2026, 9, 2, 0, 0)
	if !from.Equal(wantFrom) {
		t.Errorf("from = %v, want %v", from, wantFrom)
	}
	if !to.Equal(wantTo) {
		t.Errorf("to = %v, want %v", to, wantTo)
	}
}

// TestMinuteOfDayAt はローカル経過分の計算をテストする。
func TestMinuteOfDayAt(t *testing.T) {
	s := newTestSchedule(t)

	if got := s.MinuteOfDayAt(jst(t, 2026, 8, 31, 8, 30)); got != 510 {
		t.Errorf("MinuteOfDayAt = %d, want 510", got)
	}
	// UTC 23:30はJST 8:30
	utc := time.Date(2026, 8, 30, 23, 30, 0, 0, time.UTC)
	if got := s.MinuteOfDayAt(utc); got != 510 {
		t.Errorf("MinuteOfDayAt(UTC) = %d, want 510", got)
	}
}

// TestHoursFor_UnspecifiedDayDefaultsClosed は指定のない曜日が休館扱いになることをテストする。
func TestHoursFor_UnspecifiedDayDefaultsClosed(t *testing.T) {
	specs := map[time.Weekday]string{time.Monday: "06:00-23:00"}
	s, err := New("Asia/Tokyo", specs, 0)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if s.HoursFor(time.Tuesday).Open {
		t.Error("unspecified weekday should default to closed")
	}
}
