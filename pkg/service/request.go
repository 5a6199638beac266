package service

import (
	"github.com/small-bodies-node/sbnsis/pkg/errors"
	"github.com/small-bodies-node/sbnsis/pkg/format"
)

// ImageRequest asks for an image, or a cutout of it, in some format.
type ImageRequest struct {
	ObsID string
	// RA, Dec and Size describe a cutout. They are given together or
	// not at all.
	RA, Dec *float64
	Size    string
	// Align resamples a browse image cutout to north up, east left.
	Align  bool
	Format string
}

// Cutout is true when the request names a position.
func (r ImageRequest) Cutout() bool {
	return r.RA != nil || r.Dec != nil || r.Size != ""
}

// Validate checks the combination of parameters and resolves the
// format.
func (r ImageRequest) Validate() (format.Format, error) {
	f, err := format.Resolve(r.Format)
	if err != nil {
		return f, err
	}
	if r.Cutout() && (r.RA == nil || r.Dec == nil || r.Size == "") {
		return f, errors.Invalid("ra, dec and size must be given together")
	}
	if r.Align {
		if !r.Cutout() {
			return f, errors.Invalid("align requires a cutout: give ra, dec and size")
		}
		if !f.Raster() {
			return f, errors.Invalid("align is only available for jpeg and png images, not %s", f)
		}
	}
	return f, nil
}
