package fits

import (
	"io"

	"github.com/pkg/errors"
)

// File gives access to the HDUs of a FITS file through io.ReaderAt.
// Headers are read block by block, and only as far as the highest HDU
// asked for; data units are skipped by arithmetic, never read.
type File struct {
	r    io.ReaderAt
	hdus []*HDU
	next int64
	eof  bool
}

func Open(r io.ReaderAt) *File {
	return &File{r: r}
}

// HDU is one header and data unit.
type HDU struct {
	Index  int
	Header *Header
	// Offset of the first header block
	HeaderOffset int64
	// Offset and padded length of the data unit
	DataOffset int64
	DataSize   int64

	r io.ReaderAt
}

// HDU returns the i-th HDU, 0 being the primary.
func (f *File) HDU(i int) (*HDU, error) {
	if i < 0 {
		return nil, errors.Errorf("invalid extension index %d", i)
	}
	for len(f.hdus) <= i {
		if f.eof {
			return nil, errors.Errorf("extension %d requested, file has %d", i, len(f.hdus))
		}
		hdu, err := f.readHDU()
		if err != nil {
			return nil, err
		}
		if hdu == nil {
			f.eof = true
			continue
		}
		f.hdus = append(f.hdus, hdu)
	}
	return f.hdus[i], nil
}

func (f *File) readHDU() (*HDU, error) {
	hdu := &HDU{
		Index:        len(f.hdus),
		Header:       &Header{},
		HeaderOffset: f.next,
		r:            f.r,
	}
	block := make([]byte, BlockSize)
	offset := f.next
	for {
		n, err := f.r.ReadAt(block, offset)
		if n < BlockSize {
			if n == 0 && err == io.EOF && offset == f.next && hdu.Index > 0 {
				return nil, nil
			}
			if err == nil || err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, errors.Wrapf(err, "reading header block of HDU %d", hdu.Index)
		}
		offset += BlockSize
		if hdu.Index == 0 && offset == f.next+BlockSize && string(block[:9]) != "SIMPLE  =" {
			return nil, errors.New("not a FITS file: first card is not SIMPLE")
		}
		end, err := hdu.Header.decodeBlock(block)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing header of HDU %d", hdu.Index)
		}
		if end {
			break
		}
	}
	size, err := dataSize(hdu.Header)
	if err != nil {
		return nil, errors.Wrapf(err, "HDU %d", hdu.Index)
	}
	hdu.DataOffset = offset
	hdu.DataSize = size
	f.next = offset + padded(size)
	return hdu, nil
}

func padded(n int64) int64 {
	if rem := n % BlockSize; rem != 0 {
		return n + BlockSize - rem
	}
	return n
}

func dataSize(h *Header) (int64, error) {
	bitpix, ok := h.Int("BITPIX")
	if !ok {
		return 0, errors.New("missing BITPIX")
	}
	naxis, ok := h.Int("NAXIS")
	if !ok {
		return 0, errors.New("missing NAXIS")
	}
	if naxis == 0 {
		return 0, nil
	}
	n := int64(1)
	for i := int64(1); i <= naxis; i++ {
		v, ok := h.Int(axisKey("NAXIS", int(i)))
		if !ok || v < 0 {
			return 0, errors.Errorf("missing or invalid NAXIS%d", i)
		}
		n *= v
	}
	pcount, _ := h.Int("PCOUNT")
	gcount, ok := h.Int("GCOUNT")
	if !ok {
		gcount = 1
	}
	bpp := bitpix
	if bpp < 0 {
		bpp = -bpp
	}
	return bpp / 8 * gcount * (pcount + n), nil
}
