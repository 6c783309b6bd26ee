package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/gymgate/internal/model"
)

// uniqueViolation はPostgreSQLのユニーク制約違反のエラーコード。
const uniqueViolation = "23505"

// PostgresSessionRepo はPostgreSQLを使用した入退館セッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
// (member_id, session_date) のユニーク制約違反はAlreadyClockedInエラーとして返す。
// 同一会員の同時入館打刻が競合した場合、制約によりちょうど1件のみが成功する。
func (r *PostgresSessionRepo) Create(ctx context.Context, s *model.AttendanceSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO attendance_sessions
			(id, member_id, session_date, clock_in, status,
			 entry_lat, entry_lon, entry_address, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.MemberID, s.SessionDate, s.ClockIn, s.Status,
		s.EntryLocation.Latitude, s.EntryLocation.Longitude, s.EntryLocation.Address,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return model.NewAlreadyClockedInError(s.SessionDate)
		}
		return fmt.Errorf("セッションの作成に失敗しました: %w", err)
	}
	return nil
}

// FindByMemberAndDate は会員IDとローカル日付キーでセッションを取得する。
// 見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByMemberAndDate(ctx context.Context, memberID, date string) (*model.AttendanceSession, error) {
	s := &model.AttendanceSession{}
	var clockOut sql.NullTime
	var exitLat, exitLon sql.NullFloat64
	var exitAddress sql.NullString
	var duration sql.NullInt64
	var sessionDate time.Time

	err := r.db.QueryRowContext(ctx,
		`SELECT id, member_id, session_date, clock_in, clock_out, status,
			entry_lat, entry_lon, entry_address,
			exit_lat, exit_lon, exit_address,
			duration_minutes, force_closed, created_at, updated_at
		 FROM attendance_sessions
		 WHERE member_id = $1 AND session_date = $2`,
		memberID, date,
	).Scan(
		&s.ID, &s.MemberID, &sessionDate, &s.ClockIn, &clockOut, &s.Status,
		&s.EntryLocation.Latitude, &s.EntryLocation.Longitude, &s.EntryLocation.Address,
		&exitLat, &exitLon, &exitAddress,
		&duration, &s.ForceClosed, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}

	s.SessionDate = sessionDate.Format("2006-01-02")
	if clockOut.Valid {
		s.ClockOut = &clockOut.Time
	}
	if exitLat.Valid && exitLon.Valid {
		s.ExitLocation = &model.Location{
			Latitude:  exitLat.Float64,
			Longitude: exitLon.Float64,
			Address:   exitAddress.String,
		}
	}
	if duration.Valid {
		d := int(duration.Int64)
		s.DurationMinutes = &d
	}
	return s, nil
}

// Close は未退館セッションに退館打刻を書き込む。
// clock_out IS NULL を書き込み条件に含めることで、一度設定された退館打刻を上書きしない。
func (r *PostgresSessionRepo) Close(ctx context.Context, sessionID string, clockOut time.Time, exit *model.Location, durationMinutes int) (bool, error) {
	var exitLat, exitLon sql.NullFloat64
	var exitAddress sql.NullString
	if exit != nil {
		exitLat = sql.NullFloat64{Float64: exit.Latitude, Valid: true}
		exitLon = sql.NullFloat64{Float64: exit.Longitude, Valid: true}
		exitAddress = sql.NullString{String: exit.Address, Valid: true}
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE attendance_sessions
		 SET clock_out = $2, exit_lat = $3, exit_lon = $4, exit_address = $5,
		     duration_minutes = $6, updated_at = now()
		 WHERE id = $1 AND clock_out IS NULL`,
		sessionID, clockOut, exitLat, exitLon, exitAddress, durationMinutes,
	)
	if err != nil {
		return false, fmt.Errorf("退館打刻の書き込みに失敗しました: %w", err)
	}
	return rowsAffected(result)
}

// ForceCloseStale は入館からstalenessを超えて未退館のセッションを一括強制クローズする。
// clock_out = clock_in + staleness を1回のUPDATEで書き込むため、
// 再実行してもクローズ済みセッションは条件に一致せず冪等。
func (r *PostgresSessionRepo) ForceCloseStale(ctx context.Context, now time.Time, staleness time.Duration) ([]ForceClosedSession, error) {
	minutes := int(staleness.Minutes())
	interval := fmt.Sprintf("%d minutes", minutes)
	cutoff := now.Add(-staleness)

	rows, err := r.db.QueryContext(ctx,
		`UPDATE attendance_sessions
		 SET clock_out = clock_in + $1::interval,
		     duration_minutes = $2,
		     force_closed = TRUE,
		     updated_at = now()
		 WHERE clock_out IS NULL AND clock_in < $3
		 RETURNING id, member_id, clock_in, clock_out`,
		interval, minutes, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("滞留セッションの強制クローズに失敗しました: %w", err)
	}
	defer rows.Close()

	var closed []ForceClosedSession
	for rows.Next() {
		var c ForceClosedSession
		if err := rows.Scan(&c.SessionID, &c.MemberID, &c.ClockIn, &c.ClockOut); err != nil {
			return nil, fmt.Errorf("強制クローズ結果の読み取りに失敗しました: %w", err)
		}
		closed = append(closed, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("強制クローズ結果の走査に失敗しました: %w", err)
	}
	return closed, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
