package systems

import "math"

const twoPi = 2 * math.Pi

// Wrap maps v into [0, size) toroidally.
func Wrap(v, size float32) float32 {
	r := math.Mod(float64(v), float64(size))
	if r < 0 {
		r += float64(size)
	}
	out := float32(r)
	// float32 rounding can land exactly on size for tiny negative inputs
	if out >= size || out < 0 {
		return 0
	}
	return out
}

// NormalizeAngle wraps an angle to [-Pi, Pi].
func NormalizeAngle(a float32) float32 {
	r := math.Mod(float64(a)+math.Pi, twoPi)
	if r < 0 {
		r += twoPi
	}
	return float32(r - math.Pi)
}

// AngleDiff returns the signed shortest rotation from a to b, in [-Pi, Pi].
func AngleDiff(a, b float32) float32 {
	return NormalizeAngle(b - a)
}

// DistSq returns the squared distance between two points.
func DistSq(x1, y1, x2, y2 float32) float32 {
	dx := x1 - x2
	dy := y1 - y2
	return dx*dx + dy*dy
}

// Heading returns the angle of the vector from (x1,y1) to (x2,y2).
func Heading(x1, y1, x2, y2 float32) float32 {
	return float32(math.Atan2(float64(y2-y1), float64(x2-x1)))
}

// Velocity converts heading and speed into a velocity vector.
func Velocity(heading, speed float32) (vx, vy float32) {
	s, c := math.Sincos(float64(heading))
	return float32(c) * speed, float32(s) * speed
}
