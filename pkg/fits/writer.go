package fits

import (
	"io"

	"github.com/pkg/errors"
)

// structural keywords are written by WriteImage and never copied.
var structural = map[string]bool{
	"SIMPLE":   true, "XTENSION": true, "BITPIX": true, "NAXIS": true,
	"NAXIS1":   true, "NAXIS2": true, "NAXIS3": true, "NAXIS4": true,
	"EXTEND":   true, "PCOUNT": true, "GCOUNT": true, "END": true,
	"CHECKSUM": true, "DATASUM": true, "EXTNAME": true, "EXTVER": true,
	"INHERIT":  true,
	"ZIMAGE":   true, "ZBITPIX": true, "ZNAXIS": true, "ZNAXIS1": true,
	"ZNAXIS2":  true, "ZTILE1": true, "ZTILE2": true, "ZCMPTYPE": true,
	"ZNAME1":   true, "ZVAL1": true, "ZNAME2": true, "ZVAL2": true,
	"ZQUANTIZ": true, "ZDITHER0": true, "ZSIMPLE": true, "ZEXTEND": true,
	"ZPCOUNT":  true, "ZGCOUNT": true, "ZHECKSUM": true, "ZDATASUM": true,
	"TFIELDS":  true,
}

// IsStructural reports whether key describes file layout rather than
// content.
func IsStructural(key string) bool {
	if structural[key] {
		return true
	}
	for _, p := range []string{"TTYPE", "TFORM", "TUNIT", "TDIM", "TSCAL", "TZERO"} {
		if len(key) > len(p) && key[:len(p)] == p {
			return true
		}
	}
	return false
}

// WriteImage writes a single-HDU file holding a 2-d image. Cards of h
// are copied after the mandatory keywords, except structural ones.
// data must hold Width*Height big-endian pixels of im.BITPIX.
func WriteImage(w io.Writer, h *Header, im Image, data []byte) error {
	return writeHDU(w, []Card{
		{Key: "SIMPLE", Value: true, Comment: "conforms to FITS standard"},
		{Key: "BITPIX", Value: int64(im.BITPIX), Comment: "array data type"},
		{Key: "NAXIS", Value: int64(2), Comment: "number of array dimensions"},
		{Key: "NAXIS1", Value: int64(im.Width)},
		{Key: "NAXIS2", Value: int64(im.Height)},
	}, h, im, data)
}

// WritePrimaryStub writes a data-less primary HDU announcing
// extensions, as tile-compressed and multi-extension files have.
func WritePrimaryStub(w io.Writer, h *Header) error {
	return writeHDU(w, []Card{
		{Key: "SIMPLE", Value: true, Comment: "conforms to FITS standard"},
		{Key: "BITPIX", Value: int64(8)},
		{Key: "NAXIS", Value: int64(0)},
		{Key: "EXTEND", Value: true},
	}, h, Image{BITPIX: 8}, nil)
}

// WriteExtension writes an IMAGE extension; it must follow a primary
// HDU.
func WriteExtension(w io.Writer, h *Header, im Image, data []byte) error {
	return writeHDU(w, []Card{
		{Key: "XTENSION", Value: "IMAGE", Comment: "image extension"},
		{Key: "BITPIX", Value: int64(im.BITPIX), Comment: "array data type"},
		{Key: "NAXIS", Value: int64(2), Comment: "number of array dimensions"},
		{Key: "NAXIS1", Value: int64(im.Width)},
		{Key: "NAXIS2", Value: int64(im.Height)},
		{Key: "PCOUNT", Value: int64(0)},
		{Key: "GCOUNT", Value: int64(1)},
	}, h, im, data)
}

func writeHDU(w io.Writer, mandatory []Card, h *Header, im Image, data []byte) error {
	if want := im.Width * im.Height * im.BytesPerPixel(); len(data) != want {
		return errors.Errorf("image data is %d bytes, %dx%d BITPIX %d needs %d", len(data), im.Width, im.Height, im.BITPIX, want)
	}
	out := NewHeader(mandatory...)
	if h != nil {
		for _, c := range h.Cards() {
			if IsStructural(c.Key) {
				continue
			}
			out.Add(c)
		}
	}
	hdr, err := out.Encode()
	if err != nil {
		return errors.Wrap(err, "encoding header")
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if rem := len(data) % BlockSize; rem != 0 {
		if _, err := w.Write(make([]byte, BlockSize-rem)); err != nil {
			return err
		}
	}
	return nil
}
