package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/small-bodies-node/sbnsis/pkg/errors"
)

func obs(id, instrument string) Observation {
	return Observation{
		ObsID:           id,
		Collection:      "survey",
		Facility:        "observatory",
		Instrument:      instrument,
		DataProductType: "image",
		ImageURL:        "file:///data/" + id + ".fits",
		LabelURL:        "file:///data/" + id + ".lbl",
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(obs("c", "cam"), obs("a", "cam"), obs("b", "other"))

	o, err := m.Find(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", o.ObsID)
	_, err = m.Find(ctx, "not a real obs ID")
	assert.True(t, errors.IsMissing(err))

	total, page, err := m.Query(ctx, QueryOptions{Instrument: "cam"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "a", page[0].ObsID)
	assert.Equal(t, "c", page[1].ObsID)

	total, page, err = m.Query(ctx, QueryOptions{MaxRec: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ObsID)

	total, page, err = m.Query(ctx, QueryOptions{Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Empty(t, page)

	s, err := m.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Summary{
		{Collection: "survey", Facility: "observatory", Instrument: "cam", Count: 2},
		{Collection: "survey", Facility: "observatory", Instrument: "other", Count: 1},
	}, s)

	assert.True(t, errors.IsUser(m.Add(ctx, Observation{ObsID: "no-image"})))
}

func TestFilePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.yaml")

	f, err := OpenFile(path)
	require.NoError(t, err)
	px := 0.0003
	o := obs("x", "cam")
	o.PixelScale = &px
	require.NoError(t, f.Add(ctx, o, obs("y", "cam")))

	again, err := Open(path)
	require.NoError(t, err)
	got, err := again.Find(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, o, got)

	viaScheme, err := Open("yaml://" + path)
	require.NoError(t, err)
	total, _, err := viaScheme.Query(ctx, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestOpen(t *testing.T) {
	c, err := Open("")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)

	_, err = Open("mongodb://localhost/catalog")
	assert.Error(t, err)
}
