package wcs

import (
	"math"

	"github.com/pkg/errors"
)

const (
	d2r = math.Pi / 180
	r2d = 180 / math.Pi
)

// ErrOutsideProjection is returned for sky positions the projection
// cannot represent, e.g. the far hemisphere of a gnomonic projection.
var ErrOutsideProjection = errors.New("position is outside the projection domain")

// zenithal is a projection with its reference point at the native
// pole. r gives the radial distance in the plane (degrees) for native
// latitude theta; theta is its inverse.
type zenithal struct {
	code  string
	r     func(theta float64) (float64, bool)
	theta func(r float64) (float64, bool)
}

var projections = map[string]zenithal{
	"TAN": {
		code: "TAN",
		r: func(theta float64) (float64, bool) {
			if theta <= 0 {
				return 0, false
			}
			return r2d / math.Tan(theta*d2r), true
		},
		theta: func(r float64) (float64, bool) {
			return math.Atan2(r2d, r) * r2d, true
		},
	},
	"SIN": {
		code: "SIN",
		r: func(theta float64) (float64, bool) {
			if theta < 0 {
				return 0, false
			}
			return r2d * math.Cos(theta*d2r), true
		},
		theta: func(r float64) (float64, bool) {
			v := r * d2r
			if v > 1 {
				return 0, false
			}
			return math.Acos(v) * r2d, true
		},
	},
	"ARC": {
		code: "ARC",
		r: func(theta float64) (float64, bool) {
			return 90 - theta, true
		},
		theta: func(r float64) (float64, bool) {
			if r > 180 {
				return 0, false
			}
			return 90 - r, true
		},
	},
	"STG": {
		code: "STG",
		r: func(theta float64) (float64, bool) {
			if theta <= -90 {
				return 0, false
			}
			return 2 * r2d * math.Tan((90-theta)/2*d2r), true
		},
		theta: func(r float64) (float64, bool) {
			return 90 - 2*math.Atan(r/(2*r2d))*r2d, true
		},
	},
	"ZEA": {
		code: "ZEA",
		r: func(theta float64) (float64, bool) {
			return 2 * r2d * math.Sin((90-theta)/2*d2r), true
		},
		theta: func(r float64) (float64, bool) {
			v := r / (2 * r2d)
			if v > 1 {
				return 0, false
			}
			return 90 - 2*math.Asin(v)*r2d, true
		},
	},
}

// planeToNative converts projection plane coordinates (degrees) to
// native spherical coordinates.
func (p zenithal) planeToNative(x, y float64) (phi, theta float64, ok bool) {
	r := math.Hypot(x, y)
	if r == 0 {
		phi = 0
	} else {
		phi = math.Atan2(x, -y) * r2d
	}
	theta, ok = p.theta(r)
	return phi, theta, ok
}

func (p zenithal) nativeToPlane(phi, theta float64) (x, y float64, ok bool) {
	r, ok := p.r(theta)
	if !ok {
		return 0, 0, false
	}
	return r * math.Sin(phi*d2r), -r * math.Cos(phi*d2r), true
}

// nativeToCelestial rotates native coordinates to celestial ones for a
// reference point (ap, dp) at the native pole, with native longitude of
// the celestial pole pp.
func nativeToCelestial(phi, theta, ap, dp, pp float64) (a, d float64) {
	st, ct := math.Sincos(theta * d2r)
	sdp, cdp := math.Sincos(dp * d2r)
	sdphi, cdphi := math.Sincos((phi - pp) * d2r)

	a = ap + math.Atan2(-ct*sdphi, st*cdp-ct*sdp*cdphi)*r2d
	d = math.Asin(clamp(st*sdp+ct*cdp*cdphi)) * r2d
	return normalize(a), d
}

func celestialToNative(a, d, ap, dp, pp float64) (phi, theta float64) {
	sd, cd := math.Sincos(d * d2r)
	sdp, cdp := math.Sincos(dp * d2r)
	sda, cda := math.Sincos((a - ap) * d2r)

	phi = pp + math.Atan2(-cd*sda, sd*cdp-cd*sdp*cda)*r2d
	theta = math.Asin(clamp(sd*sdp+cd*cdp*cda)) * r2d
	return phi, theta
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

func normalize(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	return a
}
