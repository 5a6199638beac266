package render

import (
	"context"
	"math"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/small-bodies-node/sbnsis/pkg/wcs"
)

// Oversample is the number of sub-pixels per output pixel along each
// axis when resampling.
const Oversample = 4

// NorthUp returns the TAN system with square pixels, north up and east
// left, centred on the same sky position as src for an image of the
// given size. The pixel scale is the mean of src's.
func NorthUp(src *wcs.WCS, width, height int) (*wcs.WCS, error) {
	ra, dec, err := src.PixelToWorld(float64(width-1)/2, float64(height-1)/2)
	if err != nil {
		return nil, errors.Wrap(err, "finding image centre")
	}
	sx, sy := src.PixelScales()
	s := (sx + sy) / 2
	dst, err := wcs.New("TAN",
		[2]float64{float64(width+1) / 2, float64(height+1) / 2},
		[2]float64{ra, dec},
		[2][2]float64{{-s, 0}, {0, s}})
	if err != nil {
		return nil, err
	}
	dst.RADESys = src.RADESys
	dst.Equinox = src.Equinox
	return dst, nil
}

// Resample projects values, an image of width by height pixels on the
// src grid, onto the dst grid of the same size. Each output pixel
// averages Oversample² samples taken at sub-pixel centres, and is
// scaled by the ratio of pixel areas so that the sum over a region of
// sky is preserved. Samples falling outside the source are NaN and
// are left out of the average; an output pixel with no samples is NaN.
//
// Rows are computed in parallel with up to workers goroutines
// (GOMAXPROCS when workers <= 0).
func Resample(ctx context.Context, values []float64, width, height int, src, dst *wcs.WCS, workers int) ([]float64, error) {
	if len(values) != width*height {
		return nil, errors.Errorf("resample: %d values for a %dx%d image", len(values), width, height)
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	ratio := math.Abs(det(dst.CD) / det(src.CD))
	out := make([]float64, len(values))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for y := 0; y < height; y++ {
		y := y
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for x := 0; x < width; x++ {
				out[y*width+x] = sample(values, width, height, src, dst, x, y) * ratio
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func sample(values []float64, width, height int, src, dst *wcs.WCS, x, y int) float64 {
	var sum float64
	n := 0
	for j := 0; j < Oversample; j++ {
		sy := float64(y) - 0.5 + (float64(j)+0.5)/Oversample
		for i := 0; i < Oversample; i++ {
			sx := float64(x) - 0.5 + (float64(i)+0.5)/Oversample
			ra, dec, err := dst.PixelToWorld(sx, sy)
			if err != nil {
				continue
			}
			px, py, err := src.WorldToPixel(ra, dec)
			if err != nil {
				continue
			}
			ix, iy := int(math.Floor(px+0.5)), int(math.Floor(py+0.5))
			if ix < 0 || iy < 0 || ix >= width || iy >= height {
				continue
			}
			v := values[iy*width+ix]
			if math.IsNaN(v) {
				continue
			}
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func det(m [2][2]float64) float64 {
	return m[0][0]*m[1][1] - m[0][1]*m[1][0]
}
