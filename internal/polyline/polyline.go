// Package polyline implements the encoded polyline format used by routing
// services: per-axis deltas scaled by 1e5, zig-zag signed, written as 5-bit
// groups with a continuation bit and an offset of 63.
package polyline

import (
	"errors"
	"math"
	"strings"
)

const scale = 1e5

// ErrMalformed is returned for strings that end mid-value or contain bytes
// outside the encoding alphabet.
var ErrMalformed = errors.New("malformed polyline")

// Encode encodes [lat, lng] pairs.
func Encode(points [][2]float64) string {
	var b strings.Builder
	var prevLat, prevLng int64
	for _, p := range points {
		lat := int64(math.Round(p[0] * scale))
		lng := int64(math.Round(p[1] * scale))
		writeValue(&b, lat-prevLat)
		writeValue(&b, lng-prevLng)
		prevLat, prevLng = lat, lng
	}
	return b.String()
}

func writeValue(b *strings.Builder, delta int64) {
	v := delta << 1
	if delta < 0 {
		v = ^v
	}
	for v >= 0x20 {
		b.WriteByte(byte((0x20 | (v & 0x1f)) + 63))
		v >>= 5
	}
	b.WriteByte(byte(v + 63))
}

// Decode decodes an encoded polyline into [lat, lng] pairs.
func Decode(encoded string) ([][2]float64, error) {
	var points [][2]float64
	var lat, lng int64
	for i := 0; i < len(encoded); {
		dLat, next, err := readValue(encoded, i)
		if err != nil {
			return nil, err
		}
		dLng, next, err := readValue(encoded, next)
		if err != nil {
			return nil, err
		}
		i = next

		lat += dLat
		lng += dLng
		points = append(points, [2]float64{float64(lat) / scale, float64(lng) / scale})
	}
	return points, nil
}

func readValue(s string, i int) (int64, int, error) {
	var result int64
	var shift uint
	for {
		if i >= len(s) || shift > 60 {
			return 0, 0, ErrMalformed
		}
		chunk := int64(s[i]) - 63
		i++
		if chunk < 0 || chunk > 63 {
			return 0, 0, ErrMalformed
		}
		result |= (chunk & 0x1f) << shift
		shift += 5
		if chunk < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), i, nil
	}
	return result >> 1, i, nil
}
