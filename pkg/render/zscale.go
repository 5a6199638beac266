package render

import (
	"math"
	"sort"
)

// ZScale holds the parameters of the IRAF zscale algorithm, which
// picks display limits from a linear fit to the sorted values of a
// sample of the image.
type ZScale struct {
	Samples       int
	Contrast      float64
	MaxReject     float64
	MinPixels     int
	KRej          float64
	MaxIterations int
}

// DefaultZScale are IRAF's defaults.
var DefaultZScale = ZScale{
	Samples:       1000,
	Contrast:      0.25,
	MaxReject:     0.5,
	MinPixels:     5,
	KRej:          2.5,
	MaxIterations: 5,
}

// Limits returns the display range of values. NaNs are ignored; with
// no finite values the range is (0, 0).
func (z ZScale) Limits(values []float64) (vmin, vmax float64) {
	stride := 1
	if z.Samples > 0 && len(values) > z.Samples {
		stride = len(values) / z.Samples
	}
	var samples []float64
	for i := 0; i < len(values) && len(samples) < z.Samples; i += stride {
		samples = append(samples, values[i])
	}
	finite := samples[:0]
	for _, v := range samples {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	samples = finite
	npix := len(samples)
	if npix == 0 {
		return 0, 0
	}
	sort.Float64s(samples)
	vmin, vmax = samples[0], samples[npix-1]

	minpix := z.MinPixels
	if m := int(float64(npix) * z.MaxReject); m > minpix {
		minpix = m
	}
	ngrow := int(float64(npix) * 0.01)
	if ngrow < 1 {
		ngrow = 1
	}

	bad := make([]bool, npix)
	ngood, lastNgood := npix, npix+1
	var slope, intercept float64
	for iter := 0; iter < z.MaxIterations; iter++ {
		if ngood >= lastNgood || ngood < minpix {
			break
		}
		slope, intercept = fitLine(samples, bad)

		var sum, sum2 float64
		n := 0
		flat := make([]float64, npix)
		for i, v := range samples {
			flat[i] = v - (intercept + slope*float64(i))
			if !bad[i] {
				sum += flat[i]
				sum2 += flat[i] * flat[i]
				n++
			}
		}
		mean := sum / float64(n)
		threshold := z.KRej * math.Sqrt(math.Max(0, sum2/float64(n)-mean*mean))
		for i, f := range flat {
			if f < -threshold || f > threshold {
				bad[i] = true
			}
		}
		bad = dilate(bad, ngrow)
		lastNgood = ngood
		ngood = 0
		for _, b := range bad {
			if !b {
				ngood++
			}
		}
	}

	if ngood >= minpix {
		if z.Contrast > 0 {
			slope /= z.Contrast
		}
		center := (npix - 1) / 2
		median := samples[npix/2]
		if npix%2 == 0 {
			median = (samples[npix/2-1] + samples[npix/2]) / 2
		}
		vmin = math.Max(vmin, median-float64(center-1)*slope)
		vmax = math.Min(vmax, median+float64(npix-center)*slope)
	}
	return vmin, vmax
}

// fitLine is a least squares fit of y against index over the points
// not marked bad.
func fitLine(y []float64, bad []bool) (slope, intercept float64) {
	var n, sx, sy, sxx, sxy float64
	for i, v := range y {
		if bad[i] {
			continue
		}
		x := float64(i)
		n++
		sx += x
		sy += v
		sxx += x * x
		sxy += x * v
	}
	d := n*sxx - sx*sx
	if d == 0 {
		return 0, sy / math.Max(n, 1)
	}
	slope = (n*sxy - sx*sy) / d
	return slope, (sy - slope*sx) / n
}

// dilate grows the marked regions by a window of width n, centred as
// a same-size convolution centres its kernel.
func dilate(bad []bool, n int) []bool {
	out := make([]bool, len(bad))
	lo := (n - 1) - (n-1)/2
	hi := (n - 1) / 2
	for i := range bad {
		for j := i - lo; j <= i+hi; j++ {
			if j >= 0 && j < len(bad) && bad[j] {
				out[i] = true
				break
			}
		}
	}
	return out
}

// Stretch maps values linearly from [vmin, vmax] to [0, 255], clipping
// outside the range. NaN maps to 0.
func Stretch(values []float64, vmin, vmax float64) []uint8 {
	out := make([]uint8, len(values))
	span := vmax - vmin
	for i, v := range values {
		if math.IsNaN(v) || span <= 0 {
			continue
		}
		f := (v - vmin) / span
		switch {
		case f <= 0:
			out[i] = 0
		case f >= 1:
			out[i] = 255
		default:
			out[i] = uint8(math.Round(f * 255))
		}
	}
	return out
}
