package client

import (
	"bytes"
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/small-bodies-node/sbnsis/pkg/catalog"
	siserr "github.com/small-bodies-node/sbnsis/pkg/errors"
	transport "github.com/small-bodies-node/sbnsis/pkg/http"
	"github.com/small-bodies-node/sbnsis/pkg/http/httperror"
	"github.com/small-bodies-node/sbnsis/pkg/http/server"
	"github.com/small-bodies-node/sbnsis/pkg/service"
)

type stubService struct {
	dir   string
	last  service.ImageRequest
	query service.QueryRequest
}

func (s *stubService) Image(ctx context.Context, req service.ImageRequest) (string, string, error) {
	s.last = req
	if req.ObsID != "known" {
		return "", "", siserr.NotFound("image ID %q not found", req.ObsID)
	}
	return filepath.Join(s.dir, "data"), "known_+10.00000-5.00000_30arcsec.fits", nil
}

func (s *stubService) Label(ctx context.Context, obsID string) (string, string, error) {
	return filepath.Join(s.dir, "data"), "known.lbl", nil
}

func (s *stubService) Query(ctx context.Context, q service.QueryRequest) (service.QueryResult, error) {
	s.query = q
	return service.QueryResult{Count: 7, Offset: q.Offset}, nil
}

func (s *stubService) Summary(ctx context.Context) ([]catalog.Summary, error) {
	return nil, errors.New("catalog unavailable")
}

func setup(t *testing.T) (*stubService, *Client) {
	dir := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "data"), []byte("SIMPLE  =                    T"), 0664))
	stub := &stubService{dir: dir}
	ts := httptest.NewServer(server.NewHandler(stub, "v0.1.0", server.NewRouter(), nil))
	t.Cleanup(ts.Close)
	return stub, New(http.DefaultClient, transport.NewAPIRouter(), ts.URL)
}

func TestPingVersion(t *testing.T) {
	_, c := setup(t)
	require.NoError(t, c.Ping(context.Background()))
	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v0.1.0", v)
}

func TestImage(t *testing.T) {
	stub, c := setup(t)
	ra, dec := 10.0, -5.0
	var buf bytes.Buffer
	name, err := c.Image(context.Background(), service.ImageRequest{
		ObsID: "known", RA: &ra, Dec: &dec, Size: "30arcsec", Format: "fits",
	}, &buf)
	require.NoError(t, err)
	assert.Equal(t, "known_+10.00000-5.00000_30arcsec.fits", name)
	assert.Equal(t, "SIMPLE  =                    T", buf.String())
	assert.Equal(t, 10.0, *stub.last.RA)
	assert.Equal(t, -5.0, *stub.last.Dec)
	assert.Equal(t, "30arcsec", stub.last.Size)
	assert.False(t, stub.last.Align)

	buf.Reset()
	name, err = c.Label(context.Background(), "known", &buf)
	require.NoError(t, err)
	assert.Equal(t, "known.lbl", name)
}

func TestErrors(t *testing.T) {
	_, c := setup(t)
	_, err := c.Image(context.Background(), service.ImageRequest{ObsID: "unknown"}, ioutil.Discard)
	require.Error(t, err)
	assert.True(t, siserr.IsMissing(err))
	assert.Contains(t, err.Error(), `"unknown"`)

	_, err = c.Summary(context.Background())
	require.Error(t, err)
	assert.True(t, siserr.IsServer(err))
}

func TestQueryParameters(t *testing.T) {
	stub, c := setup(t)
	res, err := c.Query(context.Background(), service.QueryRequest{Instrument: "cam", Offset: 20})
	require.NoError(t, err)
	assert.Equal(t, 7, res.Count)
	assert.Equal(t, "cam", stub.query.Instrument)
	assert.Equal(t, 20, stub.query.Offset)
	assert.Equal(t, 0, stub.query.MaxRec)
}

func TestNonServiceError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer ts.Close()
	c := New(http.DefaultClient, transport.NewAPIRouter(), ts.URL)
	err := c.Ping(context.Background())
	require.Error(t, err)
	apiErr, ok := errors.Cause(err).(*httperror.APIError)
	require.True(t, ok)
	assert.True(t, apiErr.IsUnavailable())
}
