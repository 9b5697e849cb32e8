package vision

import "math"

// Segment is a detected line segment in image coordinates.
type Segment struct {
	X1, Y1, X2, Y2 int
}

// Angle returns the segment's angle from vertical in radians. Horizontal
// segments are at +-pi/2.
func (s Segment) Angle() float64 {
	dx := float64(s.X2 - s.X1)
	dy := float64(s.Y2 - s.Y1)
	if dy == 0 {
		if dx < 0 {
			return -math.Pi / 2
		}
		return math.Pi / 2
	}
	return math.Atan(dx / dy)
}

// Weight is the segment's extent along its dominant axis.
func (s Segment) Weight() float64 {
	return float64(max(absInt(s.X2-s.X1), absInt(s.Y2-s.Y1)))
}

// FilterSegments splits segments into those within maxAngle degrees of
// vertical and the rest.
func FilterSegments(segments []Segment, maxAngle float64) (kept, dropped []Segment) {
	limit := maxAngle * math.Pi / 180
	for _, s := range segments {
		if math.Abs(s.Angle()) > limit {
			dropped = append(dropped, s)
			continue
		}
		kept = append(kept, s)
	}
	return kept, dropped
}

// SteeringAngle maps segments to a normalized steering correction in [-1, 1]:
// the weighted mean angle, negated, in degrees, clamped to maxSteer and
// divided by it. ok is false when there is nothing to average.
func SteeringAngle(segments []Segment, maxSteer float64) (value float64, ok bool) {
	var sum, total float64
	for _, s := range segments {
		w := s.Weight()
		sum += w * s.Angle()
		total += w
	}
	if total == 0 || maxSteer <= 0 {
		return 0, false
	}
	deg := -(sum / total) * 180 / math.Pi
	deg = math.Max(-maxSteer, math.Min(maxSteer, deg))
	return deg / maxSteer, true
}
