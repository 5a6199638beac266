// Package format is the closed set of output formats a caller may ask
// for, keyed by request token.
package format

import (
	"strings"

	"github.com/small-bodies-node/sbnsis/pkg/errors"
)

// Encoder names the writer used for a format.
type Encoder string

const (
	EncoderFITS Encoder = "fits"
	EncoderJPEG Encoder = "jpeg"
	EncoderPNG  Encoder = "png"
)

type Format struct {
	// Name is the canonical token; aliases resolve to it.
	Name      string
	Encoder   Encoder
	Extension string
	MIME      string
}

var (
	FITS = Format{Name: "fits", Encoder: EncoderFITS, Extension: "fits", MIME: "image/fits"}
	JPEG = Format{Name: "jpeg", Encoder: EncoderJPEG, Extension: "jpeg", MIME: "image/jpeg"}
	PNG  = Format{Name: "png", Encoder: EncoderPNG, Extension: "png", MIME: "image/png"}

	// Default is used when no token is given.
	Default = FITS
)

var byToken = map[string]Format{
	"fits": FITS,
	"jpeg": JPEG,
	"jpg":  JPEG,
	"png":  PNG,
}

// Resolve maps a request token onto a format. Matching is case
// insensitive and the empty token means Default.
func Resolve(token string) (Format, error) {
	if token == "" {
		return Default, nil
	}
	f, ok := byToken[strings.ToLower(strings.TrimSpace(token))]
	if !ok {
		return Format{}, errors.Invalid("image format %q not recognised, expected one of fits, jpeg, png", token)
	}
	return f, nil
}

// Raster is true for the browse image formats.
func (f Format) Raster() bool {
	return f.Encoder == EncoderJPEG || f.Encoder == EncoderPNG
}

func (f Format) String() string {
	return f.Name
}
