// Package geofence は打刻位置のゾーン内判定を提供する。
// 副作用を持たない純粋な判定のみを行い、任意の数の呼び出し元から並行に利用できる。
package geofence

import (
	"math"

	"github.com/hitoshi/gymgate/internal/model"
)

// earthRadiusMeters は地球の平均半径（メートル）。
const earthRadiusMeters = 6371000

// Result はゾーン内判定の結果を表す。
// Validがfalseの場合、NearestDistanceMetersには全有効ゾーンの中で
// 最も近いゾーン境界中心までの距離が入り、拒否メッセージに使用される。
type Result struct {
	Valid                 bool
	NearestDistanceMeters float64
	ZoneID                string
	ZoneName              string
}

// Validate は座標が有効ゾーンのいずれかの内側にあるかを判定する。
// 距離がゾーン半径以下（境界上を含む）であればそのゾーンに一致する。
// ゾーンが1つも与えられない場合はフェイルクローズ（無効）として扱う。
func Validate(zones []model.Zone, lat, lon float64) Result {
	nearest := math.Inf(1)

	for _, z := range zones {
		if !z.Active {
			continue
		}
		d := HaversineMeters(lat, lon, z.Latitude, z.Longitude)
		if d <= z.RadiusMeters {
			return Result{
				Valid:                 true,
				NearestDistanceMeters: d,
				ZoneID:                z.ID,
				ZoneName:              z.Name,
			}
		}
		if d < nearest {
			nearest = d
		}
	}

	if math.IsInf(nearest, 1) {
		// 有効ゾーンが存在しない。位置を許可する根拠がないため無効とする。
		nearest = 0
	}
	return Result{Valid: false, NearestDistanceMeters: nearest}
}

// HaversineMeters は2点間の大円距離（メートル）をhaversine公式で計算する。
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// ValidCoordinate は緯度経度が定義域内かを返す。
func ValidCoordinate(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
