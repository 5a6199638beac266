// Package wcs maps image pixels to celestial coordinates and back for
// the zenithal projections used by the survey archives.
//
// Pixel coordinates in this package's API are 0-based: the centre of
// the first pixel is (0, 0). Header values (CRPIX) are 1-based as in
// the FITS standard.
package wcs

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/small-bodies-node/sbnsis/pkg/fits"
)

// WCS is a two-dimensional celestial world coordinate system.
type WCS struct {
	// CType holds the full axis types, e.g. "RA---TAN".
	CType [2]string
	// CRPix is the 1-based reference pixel.
	CRPix [2]float64
	// CRVal is the reference point (RA, Dec) in degrees.
	CRVal [2]float64
	// CD is the linear transformation from pixel offsets to projection
	// plane coordinates, in degrees per pixel.
	CD      [2][2]float64
	RADESys string
	Equinox float64
	LonPole float64
	LatPole float64

	proj zenithal
}

var (
	ErrNoCelestial = errors.New("header has no celestial coordinate axes")
	ErrSingular    = errors.New("pixel transformation matrix is singular")
)

// UnsupportedError is returned for projections and distortion
// conventions this package does not implement.
type UnsupportedError struct {
	What string
}

func (e *UnsupportedError) Error() string {
	return "unsupported world coordinate system: " + e.What
}

// New builds a WCS from its parts. ctype is the projection code, e.g.
// "TAN".
func New(code string, crpix, crval [2]float64, cd [2][2]float64) (*WCS, error) {
	p, ok := projections[code]
	if !ok {
		return nil, &UnsupportedError{What: code + " projection"}
	}
	w := &WCS{
		CType:   [2]string{"RA---" + code, "DEC--" + code},
		CRPix:   crpix,
		CRVal:   crval,
		CD:      cd,
		RADESys: "ICRS",
		proj:    p,
	}
	w.LonPole = defaultLonPole(crval[1])
	w.LatPole = 90
	if det(cd) == 0 {
		return nil, ErrSingular
	}
	return w, nil
}

func defaultLonPole(dec float64) float64 {
	// the reference point of a zenithal projection is the native pole
	if dec >= 90 {
		return 0
	}
	return 180
}

// FromHeader reads the celestial WCS of a FITS header. Legacy numeric
// DPn/DQn keywords give a *KeywordConflictError; see Repair.
func FromHeader(h *fits.Header) (*WCS, error) {
	if err := checkDistortion(h); err != nil {
		return nil, err
	}

	var w WCS
	for i := 0; i < 2; i++ {
		w.CType[i], _ = h.String(fmt.Sprintf("CTYPE%d", i+1))
		w.CType[i] = strings.ToUpper(strings.TrimSpace(w.CType[i]))
	}
	if !strings.HasPrefix(w.CType[0], "RA--") || !strings.HasPrefix(w.CType[1], "DEC-") {
		if strings.HasPrefix(w.CType[0], "DEC-") && strings.HasPrefix(w.CType[1], "RA--") {
			return nil, &UnsupportedError{What: "declination on the first axis"}
		}
		return nil, ErrNoCelestial
	}
	code, suffix := projectionCode(w.CType[0])
	if code2, _ := projectionCode(w.CType[1]); code2 != code {
		return nil, errors.Errorf("axis projections differ: %s and %s", w.CType[0], w.CType[1])
	}
	if suffix != "" {
		return nil, &UnsupportedError{What: strings.TrimPrefix(suffix, "-") + " distortion"}
	}
	p, ok := projections[code]
	if !ok {
		return nil, &UnsupportedError{What: code + " projection"}
	}
	w.proj = p

	for i := 0; i < 2; i++ {
		var ok bool
		if w.CRPix[i], ok = h.Float(fmt.Sprintf("CRPIX%d", i+1)); !ok {
			return nil, errors.Errorf("missing CRPIX%d", i+1)
		}
		if w.CRVal[i], ok = h.Float(fmt.Sprintf("CRVAL%d", i+1)); !ok {
			return nil, errors.Errorf("missing CRVAL%d", i+1)
		}
	}

	cd, err := linear(h)
	if err != nil {
		return nil, err
	}
	w.CD = cd

	w.RADESys, _ = h.String("RADESYS")
	if w.RADESys == "" {
		w.RADESys, _ = h.String("RADECSYS")
	}
	w.Equinox, _ = h.Float("EQUINOX")
	if w.RADESys == "" {
		switch {
		case w.Equinox == 0:
			w.RADESys = "ICRS"
		case w.Equinox < 1984:
			w.RADESys = "FK4"
		default:
			w.RADESys = "FK5"
		}
	}
	var set bool
	if w.LonPole, set = h.Float("LONPOLE"); !set {
		w.LonPole = defaultLonPole(w.CRVal[1])
	}
	if w.LatPole, set = h.Float("LATPOLE"); !set {
		w.LatPole = 90
	}
	return &w, nil
}

func projectionCode(ctype string) (code, suffix string) {
	if len(ctype) < 8 {
		return "", ""
	}
	return ctype[5:8], ctype[8:]
}

func linear(h *fits.Header) ([2][2]float64, error) {
	var m [2][2]float64
	hasCD := false
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if v, ok := h.Float(fmt.Sprintf("CD%d_%d", i+1, j+1)); ok {
				m[i][j] = v
				hasCD = true
			}
		}
	}
	if hasCD {
		if det(m) == 0 {
			return m, ErrSingular
		}
		return m, nil
	}

	var cdelt [2]float64
	for i := 0; i < 2; i++ {
		v, ok := h.Float(fmt.Sprintf("CDELT%d", i+1))
		if !ok {
			return m, errors.Errorf("missing CDELT%d and no CD matrix", i+1)
		}
		cdelt[i] = v
	}

	pc := [2][2]float64{{1, 0}, {0, 1}}
	hasPC := false
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if v, ok := h.Float(fmt.Sprintf("PC%d_%d", i+1, j+1)); ok {
				pc[i][j] = v
				hasPC = true
			}
		}
	}
	if !hasPC {
		if rho, ok := h.Float("CROTA2"); ok && rho != 0 {
			s, c := math.Sincos(rho * d2r)
			m = [2][2]float64{
				{cdelt[0] * c, -cdelt[1] * s},
				{cdelt[0] * s, cdelt[1] * c},
			}
			if det(m) == 0 {
				return m, ErrSingular
			}
			return m, nil
		}
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			m[i][j] = cdelt[i] * pc[i][j]
		}
	}
	if det(m) == 0 {
		return m, ErrSingular
	}
	return m, nil
}

func det(m [2][2]float64) float64 {
	return m[0][0]*m[1][1] - m[0][1]*m[1][0]
}

// Projection returns the projection code, e.g. "TAN".
func (w *WCS) Projection() string {
	return w.proj.code
}

// PixelToWorld returns RA and Dec (degrees) of the 0-based pixel (x, y).
func (w *WCS) PixelToWorld(x, y float64) (ra, dec float64, err error) {
	dx := x + 1 - w.CRPix[0]
	dy := y + 1 - w.CRPix[1]
	px := w.CD[0][0]*dx + w.CD[0][1]*dy
	py := w.CD[1][0]*dx + w.CD[1][1]*dy
	phi, theta, ok := w.proj.planeToNative(px, py)
	if !ok {
		return 0, 0, ErrOutsideProjection
	}
	ra, dec = nativeToCelestial(phi, theta, w.CRVal[0], w.CRVal[1], w.LonPole)
	return ra, dec, nil
}

// WorldToPixel returns the 0-based pixel of a sky position.
func (w *WCS) WorldToPixel(ra, dec float64) (x, y float64, err error) {
	phi, theta := celestialToNative(ra, dec, w.CRVal[0], w.CRVal[1], w.LonPole)
	px, py, ok := w.proj.nativeToPlane(phi, theta)
	if !ok {
		return 0, 0, ErrOutsideProjection
	}
	d := det(w.CD)
	dx := (w.CD[1][1]*px - w.CD[0][1]*py) / d
	dy := (-w.CD[1][0]*px + w.CD[0][0]*py) / d
	return dx + w.CRPix[0] - 1, dy + w.CRPix[1] - 1, nil
}

// PixelScales returns the angular size of a pixel along each axis, in
// degrees.
func (w *WCS) PixelScales() (float64, float64) {
	return math.Hypot(w.CD[0][0], w.CD[1][0]), math.Hypot(w.CD[0][1], w.CD[1][1])
}

// IsDiagonal is true when the pixel axes are aligned with the
// projection plane axes, i.e. there is no rotation or skew.
func (w *WCS) IsDiagonal() bool {
	return w.CD[0][1] == 0 && w.CD[1][0] == 0
}

// Crop returns the WCS of a sub-image whose first pixel is the 0-based
// pixel (x0, y0) of w.
func (w *WCS) Crop(x0, y0 int) *WCS {
	c := *w
	c.CRPix[0] -= float64(x0)
	c.CRPix[1] -= float64(y0)
	return &c
}

// Keywords written by Apply, and removed from a header before it.
var keywords = []string{
	"WCSAXES", "CTYPE1", "CTYPE2", "CUNIT1", "CUNIT2", "CRPIX1", "CRPIX2",
	"CRVAL1", "CRVAL2", "CDELT1", "CDELT2", "CROTA1", "CROTA2",
	"CD1_1", "CD1_2", "CD2_1", "CD2_2", "PC1_1", "PC1_2", "PC2_1", "PC2_2",
	"LONPOLE", "LATPOLE", "RADESYS", "RADECSYS", "EQUINOX",
}

// Apply replaces the WCS keywords of h with w.
func (w *WCS) Apply(h *fits.Header) {
	h.Delete(keywords...)
	h.Set("WCSAXES", int64(2), "number of World Coordinate System axes")
	h.Set("CTYPE1", w.CType[0], "")
	h.Set("CTYPE2", w.CType[1], "")
	h.Set("CUNIT1", "deg", "")
	h.Set("CUNIT2", "deg", "")
	h.Set("CRPIX1", w.CRPix[0], "pixel coordinate of reference point")
	h.Set("CRPIX2", w.CRPix[1], "pixel coordinate of reference point")
	h.Set("CRVAL1", w.CRVal[0], "[deg] coordinate value at reference point")
	h.Set("CRVAL2", w.CRVal[1], "[deg] coordinate value at reference point")
	h.Set("CD1_1", w.CD[0][0], "")
	h.Set("CD1_2", w.CD[0][1], "")
	h.Set("CD2_1", w.CD[1][0], "")
	h.Set("CD2_2", w.CD[1][1], "")
	h.Set("LONPOLE", w.LonPole, "[deg] native longitude of celestial pole")
	h.Set("LATPOLE", w.LatPole, "[deg] native latitude of celestial pole")
	h.Set("RADESYS", w.RADESys, "equatorial coordinate system")
	if w.Equinox != 0 {
		h.Set("EQUINOX", w.Equinox, "[yr] equinox of equatorial coordinates")
	}
}
