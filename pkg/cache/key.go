package cache

import (
	"fmt"
	"math"
)

// KeyPrecision is the number of decimals kept from each coordinate (about 11m).
const KeyPrecision = 4

// DeriveKey maps a query to its memory cache key. Coordinates are rounded half
// away from zero to KeyPrecision decimals, so nearby queries with the same radius
// share a key.
func DeriveKey(lat, lng float64, radiusM int) string {
	return fmt.Sprintf("places:%.4f:%.4f:%d", roundCoord(lat), roundCoord(lng), radiusM)
}

func roundCoord(v float64) float64 {
	scale := math.Pow10(KeyPrecision)
	r := math.Round(v*scale) / scale
	if r == 0 {
		// Collapse -0 so both sides of the equator/meridian share a key.
		return 0
	}
	return r
}
