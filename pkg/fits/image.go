package fits

import (
	"encoding/binary"
	"io"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// Image describes the first plane of an image HDU.
type Image struct {
	BITPIX int
	Width  int
	Height int
	BScale float64
	BZero  float64
	// Blank is the integer null value, if defined.
	Blank *int64
	// Compressed is true for tile-compressed images stored in a
	// binary table, which cannot be read by window.
	Compressed bool
}

// BytesPerPixel of the stored data.
func (im Image) BytesPerPixel() int {
	b := im.BITPIX
	if b < 0 {
		b = -b
	}
	return b / 8
}

func axisKey(prefix string, i int) string {
	return prefix + strconv.Itoa(i)
}

// Image returns the layout of the HDU's image data.
func (h *HDU) Image() (Image, error) {
	hdr := h.Header
	if z, _ := hdr.Bool("ZIMAGE"); z {
		im := Image{Compressed: true, BScale: 1}
		bitpix, _ := hdr.Int("ZBITPIX")
		w, _ := hdr.Int("ZNAXIS1")
		ht, _ := hdr.Int("ZNAXIS2")
		im.BITPIX, im.Width, im.Height = int(bitpix), int(w), int(ht)
		return im, nil
	}
	if x, ok := hdr.String("XTENSION"); ok && x != "IMAGE" {
		return Image{}, errors.Errorf("HDU %d is a %s extension, not an image", h.Index, x)
	}
	bitpix, _ := hdr.Int("BITPIX")
	switch bitpix {
	case 8, 16, 32, 64, -32, -64:
	default:
		return Image{}, errors.Errorf("HDU %d: unsupported BITPIX %d", h.Index, bitpix)
	}
	naxis, _ := hdr.Int("NAXIS")
	if naxis < 2 {
		return Image{}, errors.Errorf("HDU %d has %d axes, an image needs at least 2", h.Index, naxis)
	}
	w, _ := hdr.Int("NAXIS1")
	ht, _ := hdr.Int("NAXIS2")
	im := Image{
		BITPIX: int(bitpix),
		Width:  int(w),
		Height: int(ht),
		BScale: 1,
	}
	if v, ok := hdr.Float("BSCALE"); ok {
		im.BScale = v
	}
	if v, ok := hdr.Float("BZERO"); ok {
		im.BZero = v
	}
	if v, ok := hdr.Int("BLANK"); ok && bitpix > 0 {
		im.Blank = &v
	}
	return im, nil
}

// ReadWindow returns the raw, big-endian pixel bytes of the nx by ny
// window whose first pixel is (x0, y0), row by row. Only the byte span
// covering the window's rows is read.
func (h *HDU) ReadWindow(x0, y0, nx, ny int) ([]byte, error) {
	im, err := h.Image()
	if err != nil {
		return nil, err
	}
	if im.Compressed {
		return nil, ErrCompressed
	}
	if nx <= 0 || ny <= 0 || x0 < 0 || y0 < 0 || x0+nx > im.Width || y0+ny > im.Height {
		return nil, errors.Errorf("window %dx%d+%d+%d outside %dx%d image", nx, ny, x0, y0, im.Width, im.Height)
	}
	bpp := int64(im.BytesPerPixel())
	w := int64(im.Width)
	start := h.DataOffset + (int64(y0)*w+int64(x0))*bpp
	end := h.DataOffset + (int64(y0+ny-1)*w+int64(x0+nx))*bpp
	span := make([]byte, end-start)
	if err := readFull(h.r, span, start); err != nil {
		return nil, errors.Wrap(err, "reading pixel window")
	}
	if int64(nx) == w {
		return span, nil
	}
	rowBytes := int64(nx) * bpp
	out := make([]byte, 0, int64(ny)*rowBytes)
	for j := int64(0); j < int64(ny); j++ {
		off := j * w * bpp
		out = append(out, span[off:off+rowBytes]...)
	}
	return out, nil
}

// Pixels returns the whole first plane as physical values. Null and
// non-finite pixels are NaN.
func (h *HDU) Pixels() (Image, []float64, error) {
	im, err := h.Image()
	if err != nil {
		return im, nil, err
	}
	raw, err := h.ReadWindow(0, 0, im.Width, im.Height)
	if err != nil {
		return im, nil, err
	}
	return im, Decode(raw, im), nil
}

// ErrCompressed is returned when pixels of a tile-compressed image are
// requested.
var ErrCompressed = errors.New("tile-compressed image data cannot be read by window")

// Decode converts raw big-endian pixels to physical values.
func Decode(raw []byte, im Image) []float64 {
	bpp := im.BytesPerPixel()
	out := make([]float64, len(raw)/bpp)
	for i := range out {
		b := raw[i*bpp : (i+1)*bpp]
		var v float64
		var iv int64
		integer := true
		switch im.BITPIX {
		case 8:
			iv = int64(b[0])
		case 16:
			iv = int64(int16(binary.BigEndian.Uint16(b)))
		case 32:
			iv = int64(int32(binary.BigEndian.Uint32(b)))
		case 64:
			iv = int64(binary.BigEndian.Uint64(b))
		case -32:
			v = float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
			integer = false
		case -64:
			v = math.Float64frombits(binary.BigEndian.Uint64(b))
			integer = false
		}
		if integer {
			if im.Blank != nil && iv == *im.Blank {
				out[i] = math.NaN()
				continue
			}
			v = float64(iv)
		}
		if math.IsInf(v, 0) {
			v = math.NaN()
		}
		out[i] = im.BZero + im.BScale*v
	}
	return out
}

func readFull(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// EncodeFloat32 packs values as BITPIX -32 pixels.
func EncodeFloat32(values []float64) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint32(out[4*i:], math.Float32bits(float32(v)))
	}
	return out
}
