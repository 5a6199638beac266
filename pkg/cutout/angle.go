package cutout

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/small-bodies-node/sbnsis/pkg/errors"
)

// Angle is an angle in degrees.
type Angle float64

const (
	Degree Angle = 1
	Arcmin       = Degree / 60
	Arcsec       = Arcmin / 60
	Radian       = Degree * 180 / math.Pi

	// MinimumSize is the smallest cutout that may be requested.
	MinimumSize = Arcsec
)

var angleUnits = map[string]Angle{
	"deg":        Degree,
	"degree":     Degree,
	"degrees":    Degree,
	"arcmin":     Arcmin,
	"arcminute":  Arcmin,
	"arcminutes": Arcmin,
	"amin":       Arcmin,
	"arcsec":     Arcsec,
	"arcsecond":  Arcsec,
	"arcseconds": Arcsec,
	"asec":       Arcsec,
	"mas":        Arcsec / 1000,
	"rad":        Radian,
	"radian":     Radian,
	"radians":    Radian,
}

var angleRE = regexp.MustCompile(`^([+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?)\s*([a-zA-Z]*)$`)

// ParseAngle parses a quantity such as "1deg", "5 arcmin" or "30arcsec".
// A unit is required.
func ParseAngle(s string) (Angle, error) {
	m := angleRE.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, errors.Invalid("cannot parse %q as an angle, expected e.g. 5arcmin", s)
	}
	if m[2] == "" {
		return 0, errors.Invalid("angle %q has no units, use deg, arcmin or arcsec", s)
	}
	unit, ok := angleUnits[strings.ToLower(m[2])]
	if !ok {
		return 0, errors.Invalid("unknown angular unit %q in %q", m[2], s)
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || math.IsInf(v, 0) {
		return 0, errors.Invalid("cannot parse %q as an angle", s)
	}
	return Angle(v) * unit, nil
}

func (a Angle) Degrees() float64 {
	return float64(a)
}

// String formats the angle in degrees, in the shortest form that
// parses back to the same value.
func (a Angle) String() string {
	return strconv.FormatFloat(float64(a), 'f', -1, 64) + "deg"
}
