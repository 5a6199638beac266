// Package render turns FITS images into browse images: contrast
// stretched 8-bit JPEG or PNG files that carry their sky coordinates
// as embedded AVM metadata.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/small-bodies-node/sbnsis/pkg/cache"
	siserr "github.com/small-bodies-node/sbnsis/pkg/errors"
	"github.com/small-bodies-node/sbnsis/pkg/fits"
	"github.com/small-bodies-node/sbnsis/pkg/format"
	sismetrics "github.com/small-bodies-node/sbnsis/pkg/metrics"
	"github.com/small-bodies-node/sbnsis/pkg/wcs"
)

// JPEGQuality is used for every JPEG written.
const JPEGQuality = 90

// Job describes one browse image.
type Job struct {
	// Source is a local FITS file. Pixels come from HDU DataExt and
	// coordinates from HDU WCSExt.
	Source  string
	DataExt int
	WCSExt  int
	Output  string
	Format  format.Format
	// Align resamples the image onto a north up, east left grid.
	Align bool
}

type Renderer struct {
	ZScale ZScale
	// Workers bounds the goroutines used to resample; zero means
	// GOMAXPROCS.
	Workers int
	Logger  log.Logger
}

func (r *Renderer) logger() log.Logger {
	if r.Logger == nil {
		return log.NewNopLogger()
	}
	return r.Logger
}

// Render writes the browse image described by job. The output appears
// at job.Output complete or not at all.
func (r *Renderer) Render(ctx context.Context, job Job) (err error) {
	defer func(begin time.Time) {
		renderDuration.With(
			sismetrics.LabelFormat, job.Format.Name,
			sismetrics.LabelSuccess, fmt.Sprint(err == nil),
		).Observe(time.Since(begin).Seconds())
	}(time.Now())

	if !job.Format.Raster() {
		return siserr.Invalid("%s is not a browse image format", job.Format)
	}
	f, err := os.Open(job.Source)
	if err != nil {
		return siserr.Processing(errors.Wrap(err, "opening image"), "")
	}
	defer f.Close()

	file := fits.Open(f)
	hdu, err := file.HDU(job.DataExt)
	if err != nil {
		return siserr.Processing(err, "")
	}
	im, values, err := hdu.Pixels()
	if err != nil {
		return siserr.Processing(errors.Wrap(err, "reading pixels"), "")
	}

	coords, err := r.coordinates(file, job.WCSExt)
	if err != nil {
		if job.Align {
			return siserr.Processing(errors.Wrap(err, "reading world coordinates"),
				"the image cannot be aligned without a world coordinate system")
		}
		r.logger().Log("warn", "rendering without coordinates", "source", job.Source, "err", err)
		coords = nil
	}

	if job.Align {
		target, err := NorthUp(coords, im.Width, im.Height)
		if err != nil {
			return siserr.Processing(err, "")
		}
		values, err = Resample(ctx, values, im.Width, im.Height, coords, target, r.Workers)
		if err != nil {
			return siserr.Processing(errors.Wrap(err, "aligning image"), "")
		}
		coords = target
	}

	z := r.ZScale
	if z == (ZScale{}) {
		z = DefaultZScale
	}
	vmin, vmax := z.Limits(values)
	gray := image.NewGray(image.Rect(0, 0, im.Width, im.Height))
	levels := Stretch(values, vmin, vmax)
	// FITS rows run bottom to top, raster rows top to bottom
	for y := 0; y < im.Height; y++ {
		copy(gray.Pix[(im.Height-1-y)*gray.Stride:], levels[y*im.Width:(y+1)*im.Width])
	}

	data, err := encode(gray, job.Format)
	if err != nil {
		return siserr.Processing(err, "")
	}
	if coords != nil {
		avm, err := FromWCS(coords, im.Width, im.Height)
		if err != nil {
			return siserr.Processing(err, "")
		}
		if data, err = embed(data, avm.XMP(), job.Format); err != nil {
			return siserr.Processing(err, "")
		}
	}
	if err := cache.WriteFile(job.Output, data); err != nil {
		return siserr.Processing(err, "")
	}
	return nil
}

func (r *Renderer) coordinates(file *fits.File, ext int) (*wcs.WCS, error) {
	hdu, err := file.HDU(ext)
	if err != nil {
		return nil, err
	}
	w, dropped, err := wcs.FromHeaderRepaired(hdu.Header)
	if len(dropped) > 0 {
		r.logger().Log("warn", "ignoring conflicting keywords", "keys", fmt.Sprint(dropped))
	}
	return w, err
}

func encode(img image.Image, f format.Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch f.Encoder {
	case format.EncoderJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality})
	case format.EncoderPNG:
		err = png.Encode(&buf, img)
	default:
		return nil, errors.Errorf("no encoder for %s", f)
	}
	return buf.Bytes(), errors.Wrapf(err, "encoding %s", f)
}

func embed(img, packet []byte, f format.Format) ([]byte, error) {
	if f.Encoder == format.EncoderJPEG {
		return EmbedJPEG(img, packet)
	}
	return EmbedPNG(img, packet)
}
