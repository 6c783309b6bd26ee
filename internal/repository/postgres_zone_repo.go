package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/gymgate/internal/model"
)

// PostgresZoneRepo はPostgreSQLを使用したゾーンリポジトリ。
type PostgresZoneRepo struct {
	db *sql.DB
}

// NewPostgresZoneRepo はPostgresZoneRepoを生成する。
func NewPostgresZoneRepo(db *sql.DB) *PostgresZoneRepo {
	return &PostgresZoneRepo{db: db}
}

// ListActive は有効なゾーンの一覧を返す。1件もない場合は空スライスを返す。
func (r *PostgresZoneRepo) ListActive(ctx context.Context) ([]model.Zone, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, latitude, longitude, radius_meters, active, created_at, updated_at
		 FROM zones WHERE active ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("ゾーン一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var zones []model.Zone
	for rows.Next() {
		var z model.Zone
		if err := rows.Scan(&z.ID, &z.Name, &z.Latitude, &z.Longitude, &z.RadiusMeters, &z.Active, &z.CreatedAt, &z.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ゾーン行の読み取りに失敗しました: %w", err)
		}
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ゾーン一覧の走査に失敗しました: %w", err)
	}
	return zones, nil
}

// Create はゾーンを作成する。
func (r *PostgresZoneRepo) Create(ctx context.Context, z *model.Zone) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO zones (id, name, latitude, longitude, radius_meters, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		z.ID, z.Name, z.Latitude, z.Longitude, z.RadiusMeters, z.Active, z.CreatedAt, z.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ゾーンの作成に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ZoneRepository = (*PostgresZoneRepo)(nil)
