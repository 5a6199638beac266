package fits

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCard(t *testing.T) {
	for raw, want := range map[string]Card{
		"SIMPLE  =                    T / conforms":      {Key: "SIMPLE", Value: true, Comment: "conforms"},
		"NAXIS1  =                  300":                 {Key: "NAXIS1", Value: int64(300)},
		"CRVAL1  =   1.2345678901234E+02 / [deg]":        {Key: "CRVAL1", Value: 123.45678901234, Comment: "[deg]"},
		"CDELT2  =              1.5D-03":                 {Key: "CDELT2", Value: 1.5e-3},
		"CTYPE1  = 'RA---TAN'           / projection":    {Key: "CTYPE1", Value: "RA---TAN", Comment: "projection"},
		"OBJECT  = 'it''s / here'":                       {Key: "OBJECT", Value: "it's / here"},
		"BLANKV  =":                                      {Key: "BLANKV"},
		"COMMENT   generated for the archive":            {Key: "COMMENT", Comment: "  generated for the archive"},
		"DATE-OBS= '2020-01-01T00:00:00'":                {Key: "DATE-OBS", Value: "2020-01-01T00:00:00"},
		"HISTORY = not a value":                          {Key: "HISTORY", Comment: "= not a value"},
		"HIERARCH ESO DET CHIP1 ID = 'ccd-1' / detector": {Key: "HIERARCH", Comment: " ESO DET CHIP1 ID = 'ccd-1' / detector"},
	} {
		c, err := parseCard(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, c, raw)
	}
	_, err := parseCard("BAD     = 'unterminated")
	assert.Error(t, err)
}

func TestCardRoundTrip(t *testing.T) {
	for _, c := range []Card{
		{Key: "SIMPLE", Value: true},
		{Key: "BITPIX", Value: int64(-32), Comment: "float"},
		{Key: "CRVAL1", Value: 123.45678901234567},
		{Key: "CD1_1", Value: -2.7777777777777778e-04},
		{Key: "CRPIX1", Value: float64(151)},
		{Key: "EXPTIME", Value: 1e-5},
		{Key: "CTYPE2", Value: "DEC--TAN"},
		{Key: "OBJECT", Value: "it's"},
		{Key: "LONGSTR", Value: strings.Repeat("abcdefghij'", 20), Comment: "ignored"},
	} {
		records, err := formatCard(c)
		require.NoError(t, err)
		h := &Header{}
		block := []byte(strings.Join(records, "") + pad("END"))
		block = append(block, bytes.Repeat([]byte(" "), BlockSize-len(block))...)
		end, err := h.decodeBlock(block)
		require.NoError(t, err)
		require.True(t, end)
		require.Len(t, h.Cards(), 1, c.Key)
		assert.Equal(t, c.Value, h.Cards()[0].Value, c.Key)
		for _, r := range records {
			assert.Len(t, r, CardSize)
		}
	}
}

func TestHierarchPassthrough(t *testing.T) {
	raw := pad("HIERARCH ESO TEL AIRM START = 1.234 / airmass at start")
	c, err := parseCard(raw)
	require.NoError(t, err)
	records, err := formatCard(c)
	require.NoError(t, err)
	assert.Equal(t, []string{raw}, records)

	h := NewHeader(c, Card{Key: "HIERARCH", Comment: " ESO DET NAME = 'ccd'"})
	enc, err := h.Encode()
	require.NoError(t, err)
	assert.Equal(t, raw, string(enc[:CardSize]))
	assert.Equal(t, pad("HIERARCH ESO DET NAME = 'ccd'"), string(enc[CardSize:2*CardSize]))
}

func TestFormatFloat(t *testing.T) {
	for v, want := range map[float64]string{
		1:       "1.0",
		-0.5:    "-0.5",
		1e-5:    "1.0E-05",
		1.25e21: "1.25E+21",
	} {
		got, err := formatFloat(v)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := formatFloat(math.NaN())
	assert.Error(t, err)
}

func TestHeaderEdits(t *testing.T) {
	h := NewHeader(
		Card{Key: "DP1", Value: int64(3)},
		Card{Key: "CRPIX1", Value: 1.0},
		Card{Key: "DP1", Value: int64(4)},
	)
	h.Set("crpix1", 2.0, "")
	v, ok := h.Float("CRPIX1")
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)

	h.Delete("DP1")
	assert.False(t, h.Has("DP1"))
	assert.Equal(t, 1, h.Len())

	h.AddComment("one")
	h.AddComment("two")
	assert.Equal(t, 3, h.Len())
}

func testImage(t *testing.T, w, h int, extra ...Card) []byte {
	values := make([]float64, w*h)
	for i := range values {
		values[i] = float64(i)
	}
	var buf bytes.Buffer
	require.NoError(t, WriteImage(&buf, NewHeader(extra...), Image{BITPIX: -32, Width: w, Height: h}, EncodeFloat32(values)))
	return buf.Bytes()
}

type countingReader struct {
	r     io.ReaderAt
	bytes int64
}

func (c *countingReader) ReadAt(p []byte, off int64) (int, error) {
	n, err := c.r.ReadAt(p, off)
	c.bytes += int64(n)
	return n, err
}

func TestReadWindow(t *testing.T) {
	data := testImage(t, 100, 80, Card{Key: "OBJECT", Value: "field"})
	r := &countingReader{r: bytes.NewReader(data)}
	f := Open(r)
	hdu, err := f.HDU(0)
	require.NoError(t, err)

	obj, _ := hdu.Header.String("OBJECT")
	assert.Equal(t, "field", obj)
	assert.Equal(t, int64(BlockSize), hdu.DataOffset)

	im, err := hdu.Image()
	require.NoError(t, err)
	assert.Equal(t, 100, im.Width)
	assert.Equal(t, 80, im.Height)

	before := r.bytes
	raw, err := hdu.ReadWindow(10, 20, 5, 3)
	require.NoError(t, err)
	assert.Less(t, r.bytes-before, int64(3*100*4))

	px := Decode(raw, im)
	require.Len(t, px, 15)
	assert.Equal(t, float64(20*100+10), px[0])
	assert.Equal(t, float64(22*100+14), px[14])

	_, err = hdu.ReadWindow(98, 0, 5, 1)
	assert.Error(t, err)

	_, err = f.HDU(1)
	assert.Error(t, err)
}

func TestExtensions(t *testing.T) {
	primary := testImage(t, 4, 4)
	ext := NewHeader(
		Card{Key: "XTENSION", Value: "IMAGE"},
		Card{Key: "BITPIX", Value: int64(16)},
		Card{Key: "NAXIS", Value: int64(2)},
		Card{Key: "NAXIS1", Value: int64(3)},
		Card{Key: "NAXIS2", Value: int64(2)},
		Card{Key: "PCOUNT", Value: int64(0)},
		Card{Key: "GCOUNT", Value: int64(1)},
		Card{Key: "BZERO", Value: int64(32768)},
		Card{Key: "BLANK", Value: int64(-32768)},
	)
	hdr, err := ext.Encode()
	require.NoError(t, err)
	pix := make([]byte, BlockSize)
	for i, v := range []int16{-32768, -32767, 0, 1, 2, 3} {
		binary.BigEndian.PutUint16(pix[2*i:], uint16(v))
	}
	file := append(append(primary, hdr...), pix...)

	f := Open(bytes.NewReader(file))
	hdu, err := f.HDU(1)
	require.NoError(t, err)
	im, px, err := hdu.Pixels()
	require.NoError(t, err)
	assert.Equal(t, 3, im.Width)
	assert.True(t, math.IsNaN(px[0]))
	assert.Equal(t, []float64{1, 32768, 32769, 32770, 32771}, px[1:])

	_, err = f.HDU(2)
	assert.Error(t, err)
}

func TestCompressed(t *testing.T) {
	hdu := &HDU{Header: NewHeader(
		Card{Key: "XTENSION", Value: "BINTABLE"},
		Card{Key: "ZIMAGE", Value: true},
		Card{Key: "ZBITPIX", Value: int64(-32)},
		Card{Key: "ZNAXIS1", Value: int64(10)},
		Card{Key: "ZNAXIS2", Value: int64(12)},
	)}
	im, err := hdu.Image()
	require.NoError(t, err)
	assert.True(t, im.Compressed)
	assert.Equal(t, 12, im.Height)
	_, err = hdu.ReadWindow(0, 0, 1, 1)
	assert.Equal(t, ErrCompressed, err)
}

func TestNotFITS(t *testing.T) {
	_, err := Open(bytes.NewReader(bytes.Repeat([]byte("x"), BlockSize))).HDU(0)
	assert.Error(t, err)
	_, err = Open(bytes.NewReader([]byte("SIMPLE  =  T"))).HDU(0)
	assert.Error(t, err)
}

func TestWriteImageRejectsShortData(t *testing.T) {
	err := WriteImage(io.Discard, NewHeader(), Image{BITPIX: 16, Width: 2, Height: 2}, make([]byte, 7))
	assert.Error(t, err)
}

func TestWriteExtension(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePrimaryStub(&buf, NewHeader(Card{Key: "ORIGIN", Value: "test"})))
	assert.Equal(t, BlockSize, buf.Len())
	values := []float64{1, 2, 3, 4, 5, 6}
	require.NoError(t, WriteExtension(&buf, NewHeader(Card{Key: "EXTNAME", Value: "SCI"}), Image{BITPIX: -32, Width: 3, Height: 2}, EncodeFloat32(values)))

	f := Open(bytes.NewReader(buf.Bytes()))
	primary, err := f.HDU(0)
	require.NoError(t, err)
	origin, _ := primary.Header.String("ORIGIN")
	assert.Equal(t, "test", origin)
	assert.Equal(t, int64(0), primary.DataSize)

	ext, err := f.HDU(1)
	require.NoError(t, err)
	assert.False(t, ext.Header.Has("EXTNAME"))
	_, px, err := ext.Pixels()
	require.NoError(t, err)
	assert.Equal(t, values, px)
}
