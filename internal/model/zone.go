// Package model はドメインモデルを定義する。
package model

import "time"

// Zone は有効な打刻位置を定義する円形ジオフェンスを表す。
// 複数のゾーンが同時に有効でよく、いずれか1つの内側であれば位置は有効となる。
type Zone struct {
	ID           string
	Name         string
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
