package waveform

import "math"

// CatmullRom interpolates the closed control point sequence at cyclic parameter u.
// The curve passes through points[k] at u = k/N and wraps from the last point back to the
// first. The result is not clamped: sharp corners can overshoot the control points.
func CatmullRom(points []float64, u float64) (float64, error) {
	n := len(points)
	if n < 2 {
		return 0, ErrTooFewPoints
	}

	scaled := Wrap(u) * float64(n)
	i := int(math.Floor(scaled))
	if i >= n {
		i = n - 1
	}
	s := scaled - float64(i)

	p0 := points[(i-1+n)%n]
	p1 := points[i]
	p2 := points[(i+1)%n]
	p3 := points[(i+2)%n]

	s2 := s * s
	s3 := s2 * s

	return 0.5 * (2*p1 +
		(p2-p0)*s +
		(2*p0-5*p1+4*p2-p3)*s2 +
		(3*p1-p0-3*p2+p3)*s3), nil
}
