package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/gymgate/internal/model"
)

// PostgresMemberRepo はPostgreSQLを使用した会員リポジトリ。
type PostgresMemberRepo struct {
	db *sql.DB
}

// NewPostgresMemberRepo はPostgresMemberRepoを生成する。
func NewPostgresMemberRepo(db *sql.DB) *PostgresMemberRepo {
	return &PostgresMemberRepo{db: db}
}

const memberColumns = `id, name, email, role, is_active,
	plan, membership_status, start_date, expiry_date, monthly_usage_count, last_reset_date,
	created_at, updated_at`

// scanMember は1行を*model.Memberに読み取る。
func scanMember(row interface{ Scan(...any) error }) (*model.Member, error) {
	m := &model.Member{}
	var startDate, expiryDate, lastReset sql.NullTime
	err := row.Scan(
		&m.ID, &m.Name, &m.Email, &m.Role, &m.IsActive,
		&m.Membership.Plan, &m.Membership.Status, &startDate, &expiryDate,
		&m.Membership.MonthlyUsageCount, &lastReset,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if startDate.Valid {
		m.Membership.StartDate = &startDate.Time
	}
	if expiryDate.Valid {
		m.Membership.ExpiryDate = &expiryDate.Time
	}
	if lastReset.Valid {
		m.Membership.LastResetDate = &lastReset.Time
	}
	return m, nil
}

// FindByID は指定IDの会員を取得する。見つからない場合はnilを返す。
func (r *PostgresMemberRepo) FindByID(ctx context.Context, id string) (*model.Member, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = $1`, id)

	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("会員の取得に失敗しました: %w", err)
	}
	return m, nil
}

// Create は会員を作成する。
func (r *PostgresMemberRepo) Create(ctx context.Context, m *model.Member) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO members (id, name, email, role, is_active,
			plan, membership_status, start_date, expiry_date, monthly_usage_count, last_reset_date,
			created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, m.Name, m.Email, m.Role, m.IsActive,
		m.Membership.Plan, m.Membership.Status,
		nullTime(m.Membership.StartDate), nullTime(m.Membership.ExpiryDate),
		m.Membership.MonthlyUsageCount, nullTime(m.Membership.LastResetDate),
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("会員の作成に失敗しました: %w", err)
	}
	return nil
}

// SetPlanPending はプラン申請を書き込み、statusをpendingに遷移させる。
// 既にpendingの場合は書き込まずfalseを返す。
func (r *PostgresMemberRepo) SetPlanPending(ctx context.Context, memberID string, plan model.MembershipPlan, start, expiry time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE members
		 SET plan = $2, membership_status = 'pending', start_date = $3, expiry_date = $4, updated_at = now()
		 WHERE id = $1 AND membership_status <> 'pending'`,
		memberID, plan, start, expiry,
	)
	if err != nil {
		return false, fmt.Errorf("プラン申請の書き込みに失敗しました: %w", err)
	}
	return rowsAffected(result)
}

// ApprovePending はpending→activeの遷移を行う。pendingでない場合はfalseを返す。
// plan未設定の行は遷移させない（activeはPlan != noneを前提とする）。
func (r *PostgresMemberRepo) ApprovePending(ctx context.Context, memberID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE members
		 SET membership_status = 'active', updated_at = now()
		 WHERE id = $1 AND membership_status = 'pending' AND plan <> 'none'`,
		memberID,
	)
	if err != nil {
		return false, fmt.Errorf("会員権の承認に失敗しました: %w", err)
	}
	return rowsAffected(result)
}

// ExpireIfPast はactiveかつ満了日時がnowより過去の場合のみexpiredへ遷移させる。
// 遷移条件を書き込み時に再検査するため、並行する更新処理と競合しても安全。
func (r *PostgresMemberRepo) ExpireIfPast(ctx context.Context, memberID string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE members
		 SET membership_status = 'expired', updated_at = now()
		 WHERE id = $1 AND membership_status = 'active'
		   AND expiry_date IS NOT NULL AND expiry_date < $2`,
		memberID, now,
	)
	if err != nil {
		return false, fmt.Errorf("会員権の失効処理に失敗しました: %w", err)
	}
	return rowsAffected(result)
}

// UpdateUsageCounter は月間利用回数を楽観的条件付きで更新する。
// 現在値がexpectedCountと一致し、かつstatusがactiveの場合のみ書き込む。
func (r *PostgresMemberRepo) UpdateUsageCounter(ctx context.Context, memberID string, newCount int, lastReset time.Time, expectedCount int) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE members
		 SET monthly_usage_count = $2, last_reset_date = $3, updated_at = now()
		 WHERE id = $1 AND monthly_usage_count = $4 AND membership_status = 'active'`,
		memberID, newCount, lastReset, expectedCount,
	)
	if err != nil {
		return false, fmt.Errorf("利用回数の更新に失敗しました: %w", err)
	}
	return rowsAffected(result)
}

// ListExpiredActive はstatus=activeかつ満了日時がnowより過去の会員を返す。
func (r *PostgresMemberRepo) ListExpiredActive(ctx context.Context, now time.Time) ([]*model.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members
		 WHERE membership_status = 'active' AND expiry_date IS NOT NULL AND expiry_date < $1
		 ORDER BY expiry_date ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("失効対象会員の取得に失敗しました: %w", err)
	}
	return collectMembers(rows)
}

// ListExpiringBetween はstatus=activeかつ満了日時が[from, to)に入る会員を返す。
func (r *PostgresMemberRepo) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]*model.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members
		 WHERE membership_status = 'active'
		   AND expiry_date IS NOT NULL AND expiry_date >= $1 AND expiry_date < $2
		 ORDER BY expiry_date ASC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("期限間近会員の取得に失敗しました: %w", err)
	}
	return collectMembers(rows)
}

// ListInactiveSince はstatus=activeかつsinceDate以降に入館記録がない会員を返す。
func (r *PostgresMemberRepo) ListInactiveSince(ctx context.Context, sinceDate string) ([]*model.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members m
		 WHERE m.membership_status = 'active' AND m.is_active
		   AND NOT EXISTS (
		       SELECT 1 FROM attendance_sessions s
		       WHERE s.member_id = m.id AND s.session_date >= $1
		   )
		 ORDER BY m.created_at ASC`,
		sinceDate,
	)
	if err != nil {
		return nil, fmt.Errorf("休眠会員の取得に失敗しました: %w", err)
	}
	return collectMembers(rows)
}

// CountActive はstatus=activeの会員数を返す。
func (r *PostgresMemberRepo) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM members WHERE membership_status = 'active'`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("有効会員数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// ListStaffIDs はスタッフ・管理者の会員IDを返す。
func (r *PostgresMemberRepo) ListStaffIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM members WHERE role IN ('staff', 'admin') AND is_active`,
	)
	if err != nil {
		return nil, fmt.Errorf("スタッフ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("スタッフ行の読み取りに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("スタッフ一覧の走査に失敗しました: %w", err)
	}
	return ids, nil
}

// collectMembers はクエリ結果を会員スライスに読み取る。
func collectMembers(rows *sql.Rows) ([]*model.Member, error) {
	defer rows.Close()

	var members []*model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("会員行の読み取りに失敗しました: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("会員一覧の走査に失敗しました: %w", err)
	}
	return members, nil
}

// rowsAffected は更新結果から遷移が発生したかを判定する。
func rowsAffected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// nullTime は*time.Timeをsql.NullTimeに変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// compile-time interface check
var _ MemberRepository = (*PostgresMemberRepo)(nil)
