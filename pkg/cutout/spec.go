package cutout

import (
	"math"
	"strconv"
	"strings"

	"github.com/small-bodies-node/sbnsis/pkg/errors"
)

const fullSize = "full_size"

// Spec is a normalised cutout request. RA is reduced into [0, 360), Dec
// is clamped into [-90, 90] and Size is never below MinimumSize. The
// cutout covers the whole image when either coordinate is absent.
type Spec struct {
	ra, dec *float64
	size    Angle
}

// NewSpec validates and normalises a request. An empty size means the
// minimum size.
func NewSpec(ra, dec *float64, size string) (Spec, error) {
	var s Spec
	if ra != nil && (math.IsNaN(*ra) || math.IsInf(*ra, 0)) {
		return Spec{}, errors.Invalid("ra must be a finite number of degrees")
	}
	if dec != nil && (math.IsNaN(*dec) || math.IsInf(*dec, 0)) {
		return Spec{}, errors.Invalid("dec must be a finite number of degrees")
	}
	if ra != nil {
		v := math.Mod(*ra, 360)
		if v < 0 {
			v += 360
		}
		if v == 360 {
			v = 0
		}
		s.ra = &v
	}
	if dec != nil {
		v := math.Max(-90, math.Min(90, *dec))
		s.dec = &v
	}
	s.size = MinimumSize
	if size != "" {
		a, err := ParseAngle(size)
		if err != nil {
			return Spec{}, err
		}
		if a > MinimumSize {
			s.size = a
		}
	}
	return s, nil
}

// FullSize is true when the request names no position.
func (s Spec) FullSize() bool {
	return s.ra == nil || s.dec == nil
}

// Center returns the requested position; ok is false for full size
// requests.
func (s Spec) Center() (ra, dec float64, ok bool) {
	if s.FullSize() {
		return 0, 0, false
	}
	return *s.ra, *s.dec, true
}

func (s Spec) Size() Angle {
	return s.size
}

// Canonical is the identity of the request for caching. Two specs with
// the same canonical string produce identical output. The fields are
// space separated so that e.g. (12, 3) and (1, 23) stay distinct.
func (s Spec) Canonical() string {
	if s.FullSize() {
		return fullSize
	}
	return strings.Join([]string{formatFloat(*s.ra), formatFloat(*s.dec), s.size.String()}, " ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
