// Package synthetic makes test images: small TAN-projected tiles whose
// pixel values are their own world coordinates, so any cutout or
// resampling of them can be checked by reading a pixel.
package synthetic

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/small-bodies-node/sbnsis/pkg/cache"
	"github.com/small-bodies-node/sbnsis/pkg/fits"
	"github.com/small-bodies-node/sbnsis/pkg/wcs"
)

// Axis selects which world coordinate fills the pixels.
type Axis int

const (
	RA Axis = iota
	Dec
)

func (a Axis) String() string {
	if a == Dec {
		return "dec"
	}
	return "ra"
}

// Image describes a synthetic image.
type Image struct {
	// Center is the (RA, Dec) of the reference pixel, in degrees.
	Center [2]float64
	// Size is the width and height in pixels.
	Size int
	// Scale is the pixel size in degrees.
	Scale float64
	// Rotation of the pixel grid, in degrees; zero gives a diagonal
	// CD matrix.
	Rotation float64
	Values   Axis
	// Extension puts the image in HDU 1 behind an empty primary, as
	// multi-extension and compressed archive files are laid out.
	Extension bool
	// Cards are added to the image header.
	Cards []fits.Card
}

// WCS is the coordinate system of the image: CRPIX is the centre
// pixel rounded down, as the archive pipelines write it.
func (im Image) WCS() (*wcs.WCS, error) {
	s := im.Scale
	c, sn := math.Cos(im.Rotation*math.Pi/180), math.Sin(im.Rotation*math.Pi/180)
	cd := [2][2]float64{
		{-s * c, s * sn},
		{s * sn, s * c},
	}
	if im.Rotation == 0 {
		cd = [2][2]float64{{-s, 0}, {0, s}}
	}
	crpix := float64(im.Size / 2)
	return wcs.New("TAN", [2]float64{crpix, crpix}, im.Center, cd)
}

// Pixels returns the image values, row by row from the bottom.
func (im Image) Pixels() ([]float64, error) {
	w, err := im.WCS()
	if err != nil {
		return nil, err
	}
	values := make([]float64, im.Size*im.Size)
	for y := 0; y < im.Size; y++ {
		for x := 0; x < im.Size; x++ {
			ra, dec, err := w.PixelToWorld(float64(x), float64(y))
			switch {
			case err != nil:
				values[y*im.Size+x] = math.NaN()
			case im.Values == Dec:
				values[y*im.Size+x] = dec
			default:
				values[y*im.Size+x] = ra
			}
		}
	}
	return values, nil
}

// Write encodes the image as a FITS file with BITPIX -32.
func (im Image) Write(out io.Writer) error {
	if im.Size <= 0 || im.Scale <= 0 {
		return errors.Errorf("invalid synthetic image size %d or scale %g", im.Size, im.Scale)
	}
	w, err := im.WCS()
	if err != nil {
		return err
	}
	values, err := im.Pixels()
	if err != nil {
		return err
	}
	h := fits.NewHeader(im.Cards...)
	w.Apply(h)
	h.Set("BUNIT", "deg", fmt.Sprintf("pixel values are %s", im.Values))
	layout := fits.Image{BITPIX: -32, Width: im.Size, Height: im.Size}
	data := fits.EncodeFloat32(values)
	if !im.Extension {
		return fits.WriteImage(out, h, layout, data)
	}
	if err := fits.WritePrimaryStub(out, nil); err != nil {
		return err
	}
	return fits.WriteExtension(out, h, layout, data)
}

// Bytes returns the encoded file.
func (im Image) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	err := im.Write(&buf)
	return buf.Bytes(), err
}

// WriteFile writes the image to path atomically.
func (im Image) WriteFile(path string) error {
	data, err := im.Bytes()
	if err != nil {
		return err
	}
	return cache.WriteFile(path, data)
}

// SphericalDistribution returns approximately n points spread evenly
// over the sphere, as (longitude, latitude) in degrees. The method is
// M. Deserno's "How to generate equidistributed points on the surface
// of a sphere".
func SphericalDistribution(n int) [][2]float64 {
	a := 4 * math.Pi / float64(n)
	d := math.Sqrt(a)
	mTheta := int(math.Round(math.Pi / d))
	dTheta := math.Pi / float64(mTheta)
	dPhi := a / dTheta
	var points [][2]float64
	for m := 0; m < mTheta; m++ {
		theta := math.Pi * (float64(m) + 0.5) / float64(mTheta)
		mPhi := int(math.Round(2 * math.Pi * math.Sin(theta) / dPhi))
		for k := 0; k < mPhi; k++ {
			phi := 2 * math.Pi * float64(k) / float64(mPhi)
			points = append(points, [2]float64{phi * 180 / math.Pi, (theta - math.Pi/2) * 180 / math.Pi})
		}
	}
	return points
}
