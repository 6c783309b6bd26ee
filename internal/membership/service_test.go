package membership

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/gymgate/internal/model"
	"github.com/hitoshi/gymgate/internal/schedule"
)

// --- Service テスト用モック ---

// mockMemberRepo はテスト用のMemberRepositoryモック。
// 条件付きUPDATEの競合ガードをメモリ上で再現する。
type mockMemberRepo struct {
	members map[string]*model.Member

	// usageConflicts が正の間、UpdateUsageCounterは競合としてfalseを返す。
	usageConflicts int
	updateCalls    int
}

func newMockMemberRepo() *mockMemberRepo {
	return &mockMemberRepo{members: make(map[string]*model.Member)}
}

func (m *mockMemberRepo) FindByID(_ context.Context, id string) (*model.Member, error) {
	mem, ok := m.members[id]
	if !ok {
		return nil, nil
	}
	cp := *mem
	return &cp, nil
}

func (m *mockMemberRepo) Create(_ context.Context, member *model.Member) error {
	m.members[member.ID] = member
	return nil
}

func (m *mockMemberRepo) SetPlanPending(_ context.Context, memberID string, plan model.MembershipPlan, start, expiry time.Time) (bool, error) {
	mem, ok := m.members[memberID]
	if !ok {
		return false, errors.New("member not found")
	}
	if mem.Membership.Status == model.StatusPending {
		return false, nil
	}
	mem.Membership.Plan = plan
	mem.Membership.Status = model.StatusPending
	mem.Membership.StartDate = &start
	mem.Membership.ExpiryDate = &expiry
	return true, nil
}

func (m *mockMemberRepo) ApprovePending(_ context.Context, memberID string) (bool, error) {
	mem, ok := m.members[memberID]
	if !ok || mem.Membership.Status != model.StatusPending || mem.Membership.Plan == model.PlanNone {
		return false, nil
	}
	mem.Membership.Status = model.StatusActive
	return true, nil
}

func (m *mockMemberRepo) ExpireIfPast(_ context.Context, memberID string, now time.Time) (bool, error) {
	mem, ok := m.members[memberID]
	if !ok {
		return false, nil
	}
	ms := mem.Membership
	if ms.Status == model.StatusActive && ms.ExpiryDate != nil && ms.ExpiryDate.Before(now) {
		mem.Membership.Status = model.StatusExpired
		return true, nil
	}
	return false, nil
}

func (m *mockMemberRepo) UpdateUsageCounter(_ context.Context, memberID string, newCount int, lastReset time.Time, expectedCount int) (bool, error) {
	m.updateCalls++
	if m.usageConflicts > 0 {
		m.usageConflicts--
		return false, nil
	}
	mem, ok := m.members[memberID]
	if !ok || mem.Membership.MonthlyUsageCount != expectedCount {
		return false, nil
	}
	mem.Membership.MonthlyUsageCount = newCount
	mem.Membership.LastResetDate = &lastReset
	return true, nil
}

func (m *mockMemberRepo) ListExpiredActive(_ context.Context, now time.Time) ([]*model.Member, error) {
	var result []*model.Member
	for _, mem := range m.members {
		ms := mem.Membership
		if ms.Status == model.StatusActive && ms.ExpiryDate != nil && ms.ExpiryDate.Before(now) {
			result = append(result, mem)
		}
	}
	return result, nil
}

func (m *mockMemberRepo) ListExpiringBetween(_ context.Context, from, to time.Time) ([]*model.Member, error) {
	var result []*model.Member
	for _, mem := range m.members {
		ms := mem.Membership
		if ms.Status == model.StatusActive && ms.ExpiryDate != nil &&
			!ms.ExpiryDate.Before(from) && ms.ExpiryDate.Before(to) {
			result = append(result, mem)
		}
	}
	return result, nil
}

func (m *mockMemberRepo) ListInactiveSince(_ context.Context, _ string) ([]*model.Member, error) {
	return nil, nil
}

func (m *mockMemberRepo) CountActive(_ context.Context) (int, error) {
	count := 0
	for _, mem := range m.members {
		if mem.Membership.Status == model.StatusActive {
			count++
		}
	}
	return count, nil
}

func (m *mockMemberRepo) ListStaffIDs(_ context.Context) ([]string, error) {
	var ids []string
	for _, mem := range m.members {
		if mem.IsStaff() {
			ids = append(ids, mem.ID)
		}
	}
	return ids, nil
}

// --- テストヘルパー ---

func testSchedule(t *testing.T) *schedule.Schedule {
	t.Helper()
	specs := make(map[time.Weekday]string)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		specs[wd] = "06:00-23:00"
	}
	s, err := schedule.New("Asia/Tokyo", specs, 15*time.Minute)
	if err != nil {
		t.Fatalf("schedule.New returned error: %v", err)
	}
	return s
}

func newTestService(t *testing.T) (*Service, *mockMemberRepo) {
	t.Helper()
	repo := newMockMemberRepo()
	svc := NewService(repo, testSchedule(t), 26, 72*time.Hour)
	return svc, repo
}

// assertAPIErrorCode はエラーが指定コードのAPIErrorであることを検証する。
func assertAPIErrorCode(t *testing.T, err error, wantCode string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != wantCode {
		t.Fatalf("error code = %q, want %q", apiErr.Code, wantCode)
	}
}

func jstTime(t *testing.T, year int, month time.Month, day, hour int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	return time.Date(year, month, day, hour, 0, 0, 0, loc)
}

// --- RequestPlan テスト ---

// TestRequestPlan_NewMember は未契約会員の新規申請をテストする。
func TestRequestPlan_NewMember(t *testing.T) {
	svc, repo := newTestService(t)
	repo.members["m1"] = &model.Member{ID: "m1", Membership: model.Membership{Plan: model.PlanNone}}

	now := jstTime(t, 2026, 8, 29, 10)
	m, err := svc.RequestPlan(context.Background(), "m1", model.PlanOneMonth, nil, now)
	if err != nil {
		t.Fatalf("RequestPlan returned error: %v", err)
	}
	if m.Membership.Status != model.StatusPending {
		t.Errorf("status = %q, want pending", m.Membership.Status)
	}
	if !m.Membership.StartDate.Equal(now) {
		t.Errorf("start = %v, want %v", m.Membership.StartDate, now)
	}
	if want := now.AddDate(0, 1, 0); !m.Membership.ExpiryDate.Equal(want) {
		t.Errorf("expiry = %v, want %v", m.Membership.ExpiryDate, want)
	}
}

// TestRequestPlan_FreshMember は登録直後（プラン未契約・未申請）の会員が
// 最初の申請を重複扱いされずに行えることをテストする。
func TestRequestPlan_FreshMember(t *testing.T) {
	svc, repo := newTestService(t)
	// ストレージの既定値と同じ状態
	repo.members["m1"] = &model.Member{ID: "m1", Membership: model.Membership{
		Plan: model.PlanNone, Status: model.StatusNone,
	}}

	now := jstTime(t, 2026, 8, 29, 10)
	m, err := svc.RequestPlan(context.Background(), "m1", model.PlanOneMonth, nil, now)
	if err != nil {
		t.Fatalf("RequestPlan returned error: %v", err)
	}
	if m.Membership.Status != model.StatusPending {
		t.Errorf("status = %q, want pending", m.Membership.Status)
	}
	if m.Membership.Plan != model.PlanOneMonth {
		t.Errorf("plan = %q, want 1-month", m.Membership.Plan)
	}
	if m.Membership.ExpiryDate == nil {
		t.Error("expiry should be set after request")
	}
}

// TestRequestPlan_WithStartDate は開始日指定の申請をテストする。
func TestRequestPlan_WithStartDate(t *testing.T) {
	svc, repo := newTestService(t)
	repo.members["m1"] = &model.Member{ID: "m1"}

	now := jstTime(t, 2026, 8, 29, 10)
	start := jstTime(t, 2026, 9, 1, 0)
	m, err := svc.RequestPlan(context.Background(), "m1", model.PlanOneYear, &start, now)
	if err != nil {
		t.Fatalf("RequestPlan returned error: %v", err)
	}
	if !m.Membership.StartDate.Equal(start) {
		t.Errorf("start = %v, want %v", m.Membership.StartDate, start)
	}
	if want := start.AddDate(1, 0, 0); !m.Membership.ExpiryDate.Equal(want) {
		t.Errorf("expiry = %v, want %v", m.Membership.ExpiryDate, want)
	}
}

// TestRequestPlan_InvalidPlan は不明なプランの拒否をテストする。
func TestRequestPlan_InvalidPlan(t *testing.T) {
	svc, repo := newTestService(t)
	repo.members["m1"] = &model.Member{ID: "m1"}

	_, err := svc.RequestPlan(context.Background(), "m1", "lifetime", nil, time.Now())
	assertAPIErrorCode(t, err, model.ErrCodeValidation)
}

// TestRequestPlan_MemberNotFound は存在しない会員の申請をテストする。
func TestRequestPlan_MemberNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.RequestPlan(context.Background(), "ghost", model.PlanOneMonth, nil, time.Now())
	assertAPIErrorCode(t, err, model.ErrCodeMemberNotFound)
}

// TestRequestPlan_WhilePending は承認待ち中の重複申請をテストする。
func TestRequestPlan_WhilePending(t *testing.T) {
	svc, repo := newTestService(t)
	repo.members["m1"] = &model.Member{ID: "m1", Membership: model.Membership{
		Plan: model.PlanOneMonth, Status: model.StatusPending,
	}}

	_, err := svc.RequestPlan(context.Background(), "m1", model.PlanThreeMonth, nil, time.Now())
	assertAPIErrorCode(t, err, model.ErrCodeDuplicatePlanRequest)
}

// TestRequestPlan_ActiveFarFromExpiry は満了が更新受付期間より先の有効会員の申請が
// 重複として拒否されることをテストする。
func TestRequestPlan_ActiveFarFromExpiry(t *testing.T) {
	svc, repo := newTestService(t)
	now := jstTime(t, 2026, 8, 29, 10)
	expiry := now.Add(30 * 24 * time.Hour)
	repo.members["m1"] = &model.Member{ID: "m1", Membership: model.Membership{
		Plan: model.PlanOneMonth, Status: model.StatusActive, ExpiryDate: &expiry,
	}}

	_, err := svc.RequestPlan(context.Background(), "m1", model.PlanOneMonth, nil, now)
	assertAPIErrorCode(t, err, model.ErrCodeDuplicatePlanRequest)
}

// TestRequestPlan_RenewalNearExpiry は満了間近の更新申請が受け付けられ、
// 新しい期間が現在の満了日時から継続することをテストする。
func TestRequestPlan_RenewalNearExpiry(t *testing.T) {
	svc, repo := newTestService(t)
	now := jstTime(t, 2026, 8, 29, 10)
	expiry := now.Add(48 * time.Hour) // 更新受付期間（72時間）内
	repo.members["m1"] = &model.Member{ID: "m1", Membership: model.Membership{
		Plan: model.PlanOneMonth, Status: model.StatusActive, ExpiryDate: &expiry,
	}}

	m, err := svc.RequestPlan(context.Background(), "m1", model.PlanThreeMonth, nil, now)
	if err != nil {
		t.Fatalf("RequestPlan returned error: %v", err)
	}
	if !m.Membership.StartDate.Equal(expiry) {
		t.Errorf("更新の開始は現在の満了日時であるべき。start = %v, want %v", m.Membership.StartDate, expiry)
	}
	if want := expiry.AddDate(0, 3, 0); !m.Membership.ExpiryDate.Equal(want) {
		t.Errorf("expiry = %v, want %v", m.Membership.ExpiryDate, want)
	}
}

// TestRequestPlan_AfterExpiry は期限切れ会員の再申請をテストする。
func TestRequestPlan_AfterExpiry(t *testing.T) {
	svc, repo := newTestService(t)
	now := jstTime(t, 2026, 8, 29, 10)
	past := now.Add(-time.Hour)
	repo.members["m1"] = &model.Member{ID: "m1", Membership: model.Membership{
		Plan: model.PlanOneMonth, Status: model.StatusExpired, ExpiryDate: &past,
	}}

	m, err := svc.RequestPlan(context.Background(), "m1", model.PlanOneMonth, nil, now)
	if err != nil {
		t.Fatalf("RequestPlan returned error: %v", err)
	}
	if !m.Membership.StartDate.Equal(now) {
		t.Errorf("再申請の開始は申請時点であるべき。start = %v, want %v", m.Membership.StartDate, now)
	}
}

// --- Approve テスト ---

// TestApprove_Pending は承認待ち会員権の承認をテストする。
func TestApprove_Pending(t *testing.T) {
	svc, repo := newTestService(t)
	repo.members["m1"] = &model.Member{ID: "m1", Membership: model.Membership{
		Plan: model.PlanOneMonth, Status: model.StatusPending,
	}}

	m, err := svc.Approve(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}
	if m.Membership.Status != model.StatusActive {
		t.Errorf("status = %q, want active", m.Membership.Status)
	}
}

// TestApprove_NotPending は承認対象がない会員の承認をテストする。
func TestApprove_NotPending(t *testing.T) {
	svc, repo := newTestService(t)
	repo.members["m1"] = &model.Member{ID: "m1", Membership: model.Membership{
		Plan: model.PlanOneMonth, Status: model.StatusActive,
	}}

	_, err := svc.Approve(context.Background(), "m1")
	assertAPIErrorCode(t, err, model.ErrCodeMembershipNotPending)
}

// TestApprove_FreshMember は未申請（登録直後）の会員の承認が拒否され、
// プランなしのactive会員権が生まれないことをテストする。
func TestApprove_FreshMember(t *testing.T) {
	svc, repo := newTestService(t)
	repo.members["m1"] = &model.Member{ID: "m1", Membership: model.Membership{
		Plan: model.PlanNone, Status: model.StatusNone,
	}}

	_, err := svc.Approve(context.Background(), "m1")
	assertAPIErrorCode(t, err, model.ErrCodeMembershipNotPending)

	if got := repo.members["m1"].Membership.Status; got != model.StatusNone {
		t.Errorf("status = %q, should remain none", got)
	}
}

// TestApprove_PendingWithoutPlan はプラン未設定のpending行が承認されず、
// active かつ Plan == none の不正状態に遷移しないことをテストする。
func TestApprove_PendingWithoutPlan(t *testing.T) {
	svc, repo := newTestService(t)
	repo.members["m1"] = &model.Member{ID: "m1", Membership: model.Membership{
		Plan: model.PlanNone, Status: model.StatusPending,
	}}

	_, err := svc.Approve(context.Background(), "m1")
	assertAPIErrorCode(t, err, model.ErrCodeMembershipNotPending)

	ms := repo.members["m1"].Membership
	if ms.Status == model.StatusActive {
		t.Error("pending row without a plan must not become active")
	}
}

// TestApprove_MemberNotFound は存在しない会員の承認をテストする。
func TestApprove_MemberNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Approve(context.Background(), "ghost")
	assertAPIErrorCode(t, err, model.ErrCodeMemberNotFound)
}

// --- 利用回数テスト ---

// TestUsageCapReached は月間利用上限の判定をテストする。
func TestUsageCapReached(t *testing.T) {
	svc, _ := newTestService(t)
	now := jstTime(t, 2026, 8, 29, 10)

	// 未リセット（入館実績なし）は未達
	if svc.UsageCapReached(model.Membership{MonthlyUsageCount: 26}, now) {
		t.Error("nil last reset should not be capped")
	}

	// 先月のカウンタはリセット対象なので未達
	lastMonth := jstTime(t, 2026, 7, 31, 10)
	if svc.UsageCapReached(model.Membership{MonthlyUsageCount: 26, LastResetDate: &lastMonth}, now) {
		t.Error("previous month counter should not be capped")
	}

	// 当月で上限到達
	thisMonth := jstTime(t, 2026, 8, 1, 10)
	if !svc.UsageCapReached(model.Membership{MonthlyUsageCount: 26, LastResetDate: &thisMonth}, now) {
		t.Error("current month at cap should be capped")
	}
	if svc.UsageCapReached(model.Membership{MonthlyUsageCount: 25, LastResetDate: &thisMonth}, now) {
		t.Error("below cap should not be capped")
	}
}

// TestRecordEntry_Increments は利用回数の加算をテストする。
func TestRecordEntry_Increments(t *testing.T) {
	svc, repo := newTestService(t)
	now := jstTime(t, 2026, 8, 29, 10)
	reset := jstTime(t, 2026, 8, 1, 10)
	repo.members["m1"] = &model.Member{ID: "m1", Membership: model.Membership{
		Status: model.StatusActive, MonthlyUsageCount: 5, LastResetDate: &reset,
	}}

	if err := svc.RecordEntry(context.Background(), "m1", now); err != nil {
		t.Fatalf("RecordEntry returned error: %v", err)
	}
	if got := repo.members["m1"].Membership.MonthlyUsageCount; got != 6 {
		t.Errorf("count = %d, want 6", got)
	}
}

// TestRecordEntry_MonthRollover は月が変わった最初の入館でカウンタが1になることをテストする。
func TestRecordEntry_MonthRollover(t *testing.T) {
	svc, repo := newTestService(t)
	lastMonth := jstTime(t, 2026, 7, 31, 22)
	repo.members["m1"] = &model.Member{ID: "m1", Membership: model.Membership{
		Status: model.StatusActive, MonthlyUsageCount: 26, LastResetDate: &lastMonth,
	}}

	now := jstTime(t, 2026, 8, 1, 10)
	if err := svc.RecordEntry(context.Background(), "m1", now); err != nil {
		t.Fatalf("RecordEntry returned error: %v", err)
	}
	ms := repo.members["m1"].Membership
	if ms.MonthlyUsageCount != 1 {
		t.Errorf("count = %d, want 1 after month rollover", ms.MonthlyUsageCount)
	}
	if !ms.LastResetDate.Equal(now) {
		t.Errorf("last reset = %v, want %v", ms.LastResetDate, now)
	}
}

// TestRecordEntry_AtCap は上限到達時の加算拒否をテストする。
func TestRecordEntry_AtCap(t *testing.T) {
	svc, repo := newTestService(t)
	now := jstTime(t, 2026, 8, 29, 10)
	reset := jstTime(t, 2026, 8, 1, 10)
	repo.members["m1"] = &model.Member{ID: "m1", Membership: model.Membership{
		Status: model.StatusActive, MonthlyUsageCount: 26, LastResetDate: &reset,
	}}

	err := svc.RecordEntry(context.Background(), "m1", now)
	assertAPIErrorCode(t, err, model.ErrCodeUsageCapExceeded)
	if got := repo.members["m1"].Membership.MonthlyUsageCount; got != 26 {
		t.Errorf("count = %d, should be unchanged", got)
	}
}

// TestRecordEntry_RetriesOnConflict は楽観的更新の競合時に再試行して成功することをテストする。
func TestRecordEntry_RetriesOnConflict(t *testing.T) {
	svc, repo := newTestService(t)
	now := jstTime(t, 2026, 8, 29, 10)
	reset := jstTime(t, 2026, 8, 1, 10)
	repo.members["m1"] = &model.Member{ID: "m1", Membership: model.Membership{
		Status: model.StatusActive, MonthlyUsageCount: 3, LastResetDate: &reset,
	}}
	repo.usageConflicts = 2

	if err := svc.RecordEntry(context.Background(), "m1", now); err != nil {
		t.Fatalf("RecordEntry should succeed after retries: %v", err)
	}
	if repo.updateCalls != 3 {
		t.Errorf("updateCalls = %d, want 3", repo.updateCalls)
	}
	if got := repo.members["m1"].Membership.MonthlyUsageCount; got != 4 {
		t.Errorf("count = %d, want 4", got)
	}
}

// TestRecordEntry_PersistentConflict は競合し続けた場合にエラーになることをテストする。
func TestRecordEntry_PersistentConflict(t *testing.T) {
	svc, repo := newTestService(t)
	now := jstTime(t, 2026, 8, 29, 10)
	repo.members["m1"] = &model.Member{ID: "m1", Membership: model.Membership{
		Status: model.StatusActive,
	}}
	repo.usageConflicts = 10

	if err := svc.RecordEntry(context.Background(), "m1", now); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

// TestRecordEntry_SequenceUpToCap は上限回数までの連続入館と上限超過の拒否をテストする。
func TestRecordEntry_SequenceUpToCap(t *testing.T) {
	repo := newMockMemberRepo()
	svc := NewService(repo, testSchedule(t), 3, 72*time.Hour)
	repo.members["m1"] = &model.Member{ID: "m1", Membership: model.Membership{
		Status: model.StatusActive,
	}}

	base := jstTime(t, 2026, 8, 3, 10)
	for i := 0; i < 3; i++ {
		now := base.AddDate(0, 0, i)
		if err := svc.RecordEntry(context.Background(), "m1", now); err != nil {
			t.Fatalf("entry %d should succeed: %v", i+1, err)
		}
	}
	if got := repo.members["m1"].Membership.MonthlyUsageCount; got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}

	err := svc.RecordEntry(context.Background(), "m1", base.AddDate(0, 0, 3))
	assertAPIErrorCode(t, err, model.ErrCodeUsageCapExceeded)
}

// --- ExpireIfPast テスト ---

// TestExpireIfPast_Idempotent は失効遷移が冪等であることをテストする。
func TestExpireIfPast_Idempotent(t *testing.T) {
	svc, repo := newTestService(t)
	now := jstTime(t, 2026, 8, 29, 10)
	past := now.Add(-time.Hour)
	repo.members["m1"] = &model.Member{ID: "m1", Membership: model.Membership{
		Plan: model.PlanOneMonth, Status: model.StatusActive, ExpiryDate: &past,
	}}

	transitioned, err := svc.ExpireIfPast(context.Background(), "m1", now)
	if err != nil {
		t.Fatalf("ExpireIfPast returned error: %v", err)
	}
	if !transitioned {
		t.Fatal("first call should transition")
	}
	if repo.members["m1"].Membership.Status != model.StatusExpired {
		t.Errorf("status = %q, want expired", repo.members["m1"].Membership.Status)
	}

	transitioned, err = svc.ExpireIfPast(context.Background(), "m1", now)
	if err != nil {
		t.Fatalf("ExpireIfPast returned error: %v", err)
	}
	if transitioned {
		t.Error("second call should be a no-op")
	}
}

// TestExpireIfPast_NotYetExpired は未満了の会員権が遷移しないことをテストする。
func TestExpireIfPast_NotYetExpired(t *testing.T) {
	svc, repo := newTestService(t)
	now := jstTime(t, 2026, 8, 29, 10)
	future := now.Add(time.Hour)
	repo.members["m1"] = &model.Member{ID: "m1", Membership: model.Membership{
		Plan: model.PlanOneMonth, Status: model.StatusActive, ExpiryDate: &future,
	}}

	transitioned, err := svc.ExpireIfPast(context.Background(), "m1", now)
	if err != nil {
		t.Fatalf("ExpireIfPast returned error: %v", err)
	}
	if transitioned {
		t.Error("future expiry should not transition")
	}
}
