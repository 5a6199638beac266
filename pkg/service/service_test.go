package service

import (
	"context"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/small-bodies-node/sbnsis/pkg/cache"
	"github.com/small-bodies-node/sbnsis/pkg/catalog"
	"github.com/small-bodies-node/sbnsis/pkg/cutout"
	"github.com/small-bodies-node/sbnsis/pkg/errors"
	"github.com/small-bodies-node/sbnsis/pkg/fits"
	"github.com/small-bodies-node/sbnsis/pkg/render"
	"github.com/small-bodies-node/sbnsis/pkg/source"
	"github.com/small-bodies-node/sbnsis/pkg/synthetic"
)

func ptr(v float64) *float64 { return &v }

// setup catalogs one Dec-valued image centred on (0, -25) with 0.01
// degree pixels.
func setup(t *testing.T) (*Service, catalog.Observation) {
	dir := t.TempDir()
	image := filepath.Join(dir, "test-000001-dec.fits")
	im := synthetic.Image{Center: [2]float64{0, -25}, Size: 301, Scale: 0.01, Values: synthetic.Dec}
	require.NoError(t, im.WriteFile(image))
	label := filepath.Join(dir, "test-000001-dec.lbl")
	require.NoError(t, ioutil.WriteFile(label, []byte(synthetic.Label("test-000001-dec.fits", "test-000001-dec", 0.01)), 0644))

	obs := catalog.Observation{
		ObsID:           "test-000001-dec",
		Collection:      synthetic.Collection,
		Facility:        "test-facility",
		Instrument:      "test-instrument",
		DataProductType: "image",
		PixelScale:      ptr(0.01),
		ImageURL:        image,
		LabelURL:        label,
	}
	store := cache.NewStore(filepath.Join(dir, "cache"), nil, nil)
	sources := &source.Resolver{Disk: store.Disk}
	s := &Service{
		Catalog: catalog.NewMemory(obs),
		Sources: sources,
		Store:   store,
		Extractor: &cutout.Extractor{
			Store:      store,
			Sources:    sources,
			MaxSize:    1024,
			Provenance: cutout.Provenance{Name: "sbnsis", Version: "test"},
		},
		Renderer:  &render.Renderer{},
		PublicURL: "https://example.org/sbnsis/",
	}
	return s, obs
}

func centrePixel(t *testing.T, path string) (fits.Image, float64) {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	hdu, err := fits.Open(f).HDU(0)
	require.NoError(t, err)
	im, px, err := hdu.Pixels()
	require.NoError(t, err)
	return im, px[(im.Height/2)*im.Width+im.Width/2]
}

func TestImageCutout(t *testing.T) {
	s, _ := setup(t)
	req := ImageRequest{ObsID: "test-000001-dec", RA: ptr(0), Dec: ptr(-25), Size: "1deg"}
	path, name, err := s.Image(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "test-000001-dec_+0.00000-25.00000_1deg.fits", name)

	im, centre := centrePixel(t, path)
	assert.Equal(t, 100, im.Width)
	assert.InDelta(t, -25, centre, 1e-4)

	// asking again returns the cached file untouched
	before, err := os.Stat(path)
	require.NoError(t, err)
	again, _, err := s.Image(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, path, again)
	after, err := os.Stat(again)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestImageKeySensitivity(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()
	base := ImageRequest{ObsID: "test-000001-dec", RA: ptr(0), Dec: ptr(-25), Size: "10arcmin", Format: "png"}
	first, _, err := s.Image(ctx, base)
	require.NoError(t, err)

	variants := []ImageRequest{
		{ObsID: base.ObsID, RA: ptr(0.05), Dec: base.Dec, Size: base.Size, Format: "png"},
		{ObsID: base.ObsID, RA: base.RA, Dec: ptr(-25.05), Size: base.Size, Format: "png"},
		{ObsID: base.ObsID, RA: base.RA, Dec: base.Dec, Size: "11arcmin", Format: "png"},
		{ObsID: base.ObsID, RA: base.RA, Dec: base.Dec, Size: base.Size, Format: "jpeg"},
		{ObsID: base.ObsID, RA: base.RA, Dec: base.Dec, Size: base.Size, Format: "png", Align: true},
		{ObsID: base.ObsID, RA: base.RA, Dec: base.Dec, Size: base.Size},
	}
	seen := map[string]bool{first: true}
	for _, v := range variants {
		p, _, err := s.Image(ctx, v)
		require.NoError(t, err)
		assert.False(t, seen[p], "%+v returned a path already seen", v)
		seen[p] = true
	}
}

func TestImageRaster(t *testing.T) {
	s, _ := setup(t)
	req := ImageRequest{ObsID: "test-000001-dec", RA: ptr(0), Dec: ptr(-25), Size: "30 arcmin", Format: "jpg", Align: true}
	path, name, err := s.Image(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "test-000001-dec_+0.00000-25.00000_30arcmin.jpeg", name)
	assert.Equal(t, "image/jpeg", MIMEType(name))

	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	avm, err := render.ReadAVM(data)
	require.NoError(t, err)
	assert.Equal(t, [2]float64{25.5, 25.5}, avm.Spatial.ReferencePixel)
	assert.InDelta(t, -25, avm.Spatial.ReferenceValue[1], 0.01)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, cache.FileMode, fi.Mode().Perm())
}

func TestImageFullFrame(t *testing.T) {
	s, obs := setup(t)
	ctx := context.Background()
	path, name, err := s.Image(ctx, ImageRequest{ObsID: obs.ObsID, Format: "fits"})
	require.NoError(t, err)
	assert.Equal(t, obs.ImageURL, path)
	assert.Equal(t, "test-000001-dec.fits", name)

	path, name, err = s.Image(ctx, ImageRequest{ObsID: obs.ObsID, Format: "png"})
	require.NoError(t, err)
	assert.Equal(t, "test-000001-dec.png", name)
	assert.NotEqual(t, obs.ImageURL, path)
}

func TestImageErrors(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()
	for _, tc := range []struct {
		name  string
		req   ImageRequest
		check func(error) bool
	}{
		{"unknown id", ImageRequest{ObsID: "not a real obs ID"}, errors.IsMissing},
		{"bad format", ImageRequest{ObsID: "test-000001-dec", Format: "something else"}, errors.IsUser},
		{"partial cutout", ImageRequest{ObsID: "test-000001-dec", RA: ptr(0), Size: "1deg"}, errors.IsUser},
		{"align full frame", ImageRequest{ObsID: "test-000001-dec", Format: "png", Align: true}, errors.IsUser},
		{"align fits", ImageRequest{ObsID: "test-000001-dec", RA: ptr(0), Dec: ptr(-25), Size: "1deg", Align: true}, errors.IsUser},
		{"bad size", ImageRequest{ObsID: "test-000001-dec", RA: ptr(0), Dec: ptr(-25), Size: "big"}, errors.IsUser},
		{"nan ra", ImageRequest{ObsID: "test-000001-dec", RA: ptr(math.NaN()), Dec: ptr(-25), Size: "1deg"}, errors.IsUser},
		{"infinite dec", ImageRequest{ObsID: "test-000001-dec", RA: ptr(0), Dec: ptr(math.Inf(-1)), Size: "1deg"}, errors.IsUser},
		{"off image", ImageRequest{ObsID: "test-000001-dec", RA: ptr(180), Dec: ptr(25), Size: "1deg"}, errors.IsUser},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := s.Image(ctx, tc.req)
			require.Error(t, err)
			assert.True(t, tc.check(err), "%v", err)
		})
	}
}

func TestLabel(t *testing.T) {
	s, obs := setup(t)
	path, name, err := s.Label(context.Background(), obs.ObsID)
	require.NoError(t, err)
	assert.Equal(t, obs.LabelURL, path)
	assert.Equal(t, "test-000001-dec.lbl", name)

	_, _, err = s.Label(context.Background(), "not a real obs ID")
	assert.True(t, errors.IsMissing(err))
}

func TestQuery(t *testing.T) {
	s, obs := setup(t)
	ctx := context.Background()
	result, err := s.Query(ctx, QueryRequest{Collection: synthetic.Collection, Format: "png"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, obs.ObsID, result.Matches[0].ObsID)
	assert.Equal(t, "https://example.org/sbnsis/images/test-000001-dec?format=png", result.Matches[0].AccessURL)

	result, err = s.Query(ctx, QueryRequest{Instrument: "nothing"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Count)
	assert.Empty(t, result.Matches)

	_, err = s.Query(ctx, QueryRequest{MaxRec: -1})
	assert.True(t, errors.IsUser(err))
	_, err = s.Query(ctx, QueryRequest{Format: "gif"})
	assert.True(t, errors.IsUser(err))

	summary, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, []catalog.Summary{{Collection: synthetic.Collection, Facility: "test-facility", Instrument: "test-instrument", Count: 1}}, summary)
}

func TestMIMEType(t *testing.T) {
	for name, expected := range map[string]string{
		"a.fits":    "image/fits",
		"a.FIT":     "image/fits",
		"a.fits.fz": "image/fits",
		"a.jpg":     "image/jpeg",
		"a.png":     "image/png",
		"a.xml":     "text/xml",
		"a.lbl":     "text/plain",
	} {
		assert.Equal(t, expected, MIMEType(name), name)
	}
}

func TestExtension(t *testing.T) {
	assert.Equal(t, 1, extension("https://example.org/data/image.fits.fz"))
	assert.Equal(t, 0, extension("/data/image.fits"))
	assert.Equal(t, "image.fits", baseName("https://example.org/data/image.fits?x=1"))
}
