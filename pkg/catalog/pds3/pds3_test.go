package pds3

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/small-bodies-node/sbnsis/pkg/catalog"
)

const testLabel = "PDS_VERSION_ID                     = PDS3\r\n" +
	"^IMAGE                             = (\"TEST-000001-RA.FITS\", 5)\r\n" +
	"PRODUCT_NAME                       = \"SBNSIS Test Image\"\r\n" +
	"PRODUCT_ID                         = \"test-000001-ra\"\r\n" +
	"DATA_SET_ID                        = \"test-collection\"\r\n" +
	"INSTRUMENT_HOST_NAME               = \"test-facility\"\r\n" +
	"INSTRUMENT_NAME                    = \"test-instrument\"\r\n" +
	"TARGET_NAME                        = \"test-target\" /* the target */\r\n" +
	"DESCRIPTION                        = \"a value that\r\n" +
	"  runs over two lines\"\r\n" +
	"OBJECT                             = IMAGE\r\n" +
	"  HORIZONTAL_PIXEL_FOV             = 0.001234 <DEGREE>\r\n" +
	"  VERTICAL_PIXEL_FOV               = 0.001234 <DEGREE>\r\n" +
	"END_OBJECT                         = IMAGE\r\n" +
	"END\r\n"

func TestParse(t *testing.T) {
	l, err := Parse(strings.NewReader(testLabel))
	require.NoError(t, err)

	assert.Equal(t, "test-000001-ra", l.String("PRODUCT_ID"))
	assert.Equal(t, "test-target", l.String("TARGET_NAME"))
	assert.Contains(t, l.String("DESCRIPTION"), "runs over two lines")

	ptr, ok := l.Get("^IMAGE")
	require.True(t, ok)
	assert.Equal(t, []string{"TEST-000001-RA.FITS", "5"}, ptr.Items)
	assert.Equal(t, "TEST-000001-RA.FITS", ptr.String())

	fov, ok := l.Get("IMAGE.HORIZONTAL_PIXEL_FOV")
	require.True(t, ok)
	assert.Equal(t, "DEGREE", fov.Unit)
	f, err := fov.Float()
	require.NoError(t, err)
	assert.Equal(t, 0.001234, f)

	assert.Equal(t, "", l.String("NOPE"))
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(strings.NewReader("JUST SOME TEXT\r\nEND\r\n"))
	assert.Error(t, err)
	_, err = Parse(strings.NewReader("END_OBJECT = IMAGE\r\nEND\r\n"))
	assert.Error(t, err)
	_, err = Parse(strings.NewReader("A = \"never closed\r\n"))
	assert.Error(t, err)
}

func writeFile(t *testing.T, path, content string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))
}

func TestAddDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.lbl"), testLabel)
	writeFile(t, filepath.Join(dir, "test-000001-ra.fits"), "image")

	// compressed image found via the .fz fallback
	second := strings.Replace(testLabel, "test-000001-ra\"", "test-000002-ra\"", 1)
	second = strings.Replace(second, "TEST-000001-RA.FITS", "TEST-000002-RA.FITS", 1)
	writeFile(t, filepath.Join(dir, "sub", "b.LBL"), second)
	writeFile(t, filepath.Join(dir, "sub", "test-000002-ra.fits.fz"), "image")

	// label without an image
	third := strings.Replace(testLabel, "TEST-000001-RA.FITS", "MISSING.FITS", 1)
	third = strings.Replace(third, "test-000001-ra\"", "test-000003-ra\"", 1)
	writeFile(t, filepath.Join(dir, "sub", "c.lbl"), third)

	// not a label at all
	writeFile(t, filepath.Join(dir, "notes.xml"), "<xml/>")

	ctx := context.Background()
	mem := catalog.NewMemory()
	in := &Ingester{Catalog: mem, StripLeading: dir, BaseURL: "https://example.org/data"}

	found, added, err := in.AddDirectory(ctx, dir, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, found)
	assert.Equal(t, 1, added)

	var seen []string
	in.Progress = func(path string, ok bool) { seen = append(seen, filepath.Base(path)) }
	found, added, err = in.AddDirectory(ctx, dir, true, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, found)
	assert.Equal(t, 2, added)
	assert.Len(t, seen, 4)

	obs, err := mem.Find(ctx, "test-000002-ra")
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/data/sub/test-000002-ra.fits.fz", obs.ImageURL)
	assert.Equal(t, "https://example.org/data/sub/b.LBL", obs.LabelURL)
	assert.Equal(t, "test-collection", obs.Collection)
	assert.Equal(t, "test-facility", obs.Facility)
	require.NotNil(t, obs.PixelScale)
	assert.Equal(t, 0.001234, *obs.PixelScale)

	_, err = mem.Find(ctx, "test-000003-ra")
	assert.Error(t, err)
}

func TestFacilityOverrideAndFileURL(t *testing.T) {
	dir := t.TempDir()
	label := filepath.Join(dir, "a.lbl")
	writeFile(t, label, testLabel)
	writeFile(t, filepath.Join(dir, "test-000001-ra.fits"), "image")

	mem := catalog.NewMemory()
	in := &Ingester{Catalog: mem, Facility: "Palomar"}
	ok, err := in.AddLabel(context.Background(), label)
	require.NoError(t, err)
	require.True(t, ok)

	obs, err := mem.Find(context.Background(), "test-000001-ra")
	require.NoError(t, err)
	assert.Equal(t, "Palomar", obs.Facility)
	assert.Equal(t, "file://"+filepath.Join(dir, "test-000001-ra.fits"), obs.ImageURL)
}
