package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/small-bodies-node/sbnsis/pkg/cache"
	"github.com/small-bodies-node/sbnsis/pkg/catalog"
	"github.com/small-bodies-node/sbnsis/pkg/cutout"
	"github.com/small-bodies-node/sbnsis/pkg/http/server"
	"github.com/small-bodies-node/sbnsis/pkg/render"
	"github.com/small-bodies-node/sbnsis/pkg/service"
	"github.com/small-bodies-node/sbnsis/pkg/source"
	"github.com/small-bodies-node/sbnsis/pkg/synthetic"
)

// run executes sbnsisctl with args, returning what it wrote to
// stdout.
func run(t *testing.T, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd := newRoot().Command()
	cmd.SetOut(buf)
	cmd.SetErr(ioutil.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// serve starts the service over the catalog at path.
func serve(t *testing.T, catalogPath string) string {
	cat, err := catalog.OpenFile(catalogPath)
	require.NoError(t, err)
	store := cache.NewStore(t.TempDir(), nil, nil)
	sources := &source.Resolver{Disk: store.Disk}
	svc := &service.Service{
		Catalog: cat,
		Sources: sources,
		Store:   store,
		Extractor: &cutout.Extractor{
			Store:   store,
			Sources: sources,
			MaxSize: 1024,
		},
		Renderer:  &render.Renderer{ZScale: render.DefaultZScale},
		PublicURL: "http://sis.example.org",
	}
	ts := httptest.NewServer(server.NewHandler(svc, "v1.0.0", server.NewRouter(), nil))
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestVersionCommand(t *testing.T) {
	version = "v9.9.9"
	defer func() { version = "" }()
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "v9.9.9\n", out)

	_, err = run(t, "version", "extra")
	assert.Equal(t, errorWantedNoArgs, err)
}

func TestUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{"image"},
		{"label", "a", "b"},
		{"image", "obs", "--ra", "1"},
		{"image", "obs", "--format", "fits", "--align", "--ra", "1", "--dec", "1", "--size", "1deg"},
		{"query", "-o", "yaml"},
		{"add"},
		{"generate-test-data"},
		{"summary", "--no-such-flag"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			_, err := run(t, args...)
			require.Error(t, err)
			_, ok := err.(usageError)
			assert.True(t, ok, "%T: %v", err, err)
		})
	}
}

func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.yaml")
	out, err := run(t, "generate-test-data", filepath.Join(dir, "data"), "--positions", "6", "--size", "16", "--catalog", catalogPath)
	require.NoError(t, err)
	total := (&synthetic.Generator{Positions: 6, Size: 16}).Total()
	assert.Contains(t, out, fmt.Sprintf("added %d images", total))

	url := serve(t, catalogPath)

	out, err = run(t, "--url", url, "summary")
	require.NoError(t, err)
	assert.Contains(t, out, synthetic.Collection)

	out, err = run(t, "--url", url, "query", "--maxrec", "3", "-o", "json")
	require.NoError(t, err)
	var res service.QueryResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, total, res.Count)
	require.Len(t, res.Matches, 3)
	assert.True(t, strings.HasPrefix(res.Matches[0].AccessURL, "http://sis.example.org/images/"))

	center := synthetic.SphericalDistribution(6)[0]
	outDir := t.TempDir()
	out, err = run(t, "--url", url, "image", "test-000001-ra",
		"--ra", fmt.Sprint(center[0]), "--dec", fmt.Sprint(center[1]), "--size", "2deg", "-o", outDir)
	require.NoError(t, err)
	saved := strings.TrimSpace(out)
	assert.Equal(t, outDir, filepath.Dir(saved))
	assert.True(t, strings.HasPrefix(filepath.Base(saved), "test-000001-ra_"))
	assert.True(t, strings.HasSuffix(saved, "_2deg.fits"))
	data, err := ioutil.ReadFile(saved)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("SIMPLE  =")))

	out, err = run(t, "--url", url, "image", "test-000001-ra", "--format", "png", "-o", "-")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "\x89PNG"))

	out, err = run(t, "--url", url, "label", "test-000002-dec", "-o", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "test-000002-dec")

	_, err = run(t, "--url", url, "image", "no-such-image", "-o", "-")
	assert.Error(t, err)

	// the same labels, found by walking the directory
	other := filepath.Join(dir, "other.yaml")
	out, err = run(t, "add", filepath.Join(dir, "data"), "--catalog", other)
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("added %d of %d labels", total, total))
	cat, err := catalog.OpenFile(other)
	require.NoError(t, err)
	_, err = cat.Find(context.Background(), "test-000001-ra")
	assert.NoError(t, err)
}
