package source

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/small-bodies-node/sbnsis/pkg/cache"
	"github.com/small-bodies-node/sbnsis/pkg/errors"
)

var content = []byte("0123456789abcdefghijklmnopqrstuvwxyz")

func newServer(t *testing.T, ranges bool) (*httptest.Server, *int32) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/images/a.fits" {
			http.NotFound(w, r)
			return
		}
		if ranges {
			http.ServeContent(w, r, "a.fits", time.Time{}, bytes.NewReader(content))
			return
		}
		w.Write(content)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.fits")
	require.NoError(t, ioutil.WriteFile(path, content, 0644))

	r := &Resolver{}
	for _, ref := range []string{path, "file://" + path} {
		got, err := r.Materialize(context.Background(), ref)
		require.NoError(t, err)
		assert.Equal(t, path, got)

		f, err := r.Open(context.Background(), ref)
		require.NoError(t, err)
		buf := make([]byte, 3)
		_, err = f.ReadAt(buf, 10)
		require.NoError(t, err)
		assert.Equal(t, "abc", string(buf))
		f.Close()
	}

	_, err := r.Open(context.Background(), filepath.Join(dir, "missing.fits"))
	assert.True(t, errors.IsServer(err))
}

func TestMaterializeDownloadsOnce(t *testing.T) {
	srv, hits := newServer(t, true)
	r := &Resolver{Disk: &cache.Disk{Root: t.TempDir()}, Limiters: &RateLimiters{RPS: 100, Burst: 10}}
	ref := srv.URL + "/images/a.fits"

	p1, err := r.Materialize(context.Background(), ref)
	require.NoError(t, err)
	p2, err := r.Materialize(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))

	got, err := ioutil.ReadFile(p1)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	fi, err := os.Stat(p1)
	require.NoError(t, err)
	assert.Equal(t, cache.FileMode, fi.Mode().Perm())

	// the materialised copy is used for reads too
	f, err := r.Open(context.Background(), ref)
	require.NoError(t, err)
	_, ok := f.(*os.File)
	assert.True(t, ok)
	f.Close()

	_, err = r.Materialize(context.Background(), srv.URL+"/images/missing.fits")
	assert.True(t, errors.IsServer(err))
}

func TestHTTPRangeReads(t *testing.T) {
	srv, hits := newServer(t, true)
	r := &Resolver{Disk: &cache.Disk{Root: t.TempDir()}}
	f, err := r.Open(context.Background(), srv.URL+"/images/a.fits")
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 4)
	n, err := f.ReadAt(buf, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "abcd", string(buf))

	n, err = f.ReadAt(buf, int64(len(content)-2))
	assert.Equal(t, 2, n)
	assert.Error(t, err)

	n, err = f.ReadAt(buf, int64(len(content)+100))
	assert.Equal(t, 0, n)
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))
}

func TestHTTPWithoutRanges(t *testing.T) {
	srv, _ := newServer(t, false)
	r := &Resolver{}
	f, err := r.Open(context.Background(), srv.URL+"/images/a.fits")
	require.NoError(t, err)
	_, err = f.ReadAt(make([]byte, 4), 10)
	assert.Equal(t, ErrRangeUnsupported, err)
}

func TestExclude(t *testing.T) {
	r := &Resolver{Exclude: []string{"*.internal", "10.*"}}
	_, err := r.Open(context.Background(), "https://archive.internal/a.fits")
	assert.True(t, errors.IsUser(err))
	_, err = r.Materialize(context.Background(), "http://10.0.0.1/a.fits")
	assert.True(t, errors.IsUser(err))
	_, err = r.Open(context.Background(), "ftp://example.com/a.fits")
	assert.True(t, errors.IsServer(err))
}

type fakeS3 struct {
	s3iface.S3API
	ranges []string
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error) {
	if aws.StringValue(in.Bucket) != "survey" || aws.StringValue(in.Key) != "tiles/a.fits" {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}
	body := content
	if rng := aws.StringValue(in.Range); rng != "" {
		f.ranges = append(f.ranges, rng)
		var start, end int
		if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); err != nil {
			return nil, err
		}
		if start >= len(content) {
			return nil, awserr.New("InvalidRange", "bad range", nil)
		}
		if end >= len(content) {
			end = len(content) - 1
		}
		body = content[start : end+1]
	}
	return &s3.GetObjectOutput{Body: ioutil.NopCloser(bytes.NewReader(body))}, nil
}

func TestS3(t *testing.T) {
	fake := &fakeS3{}
	r := &Resolver{Disk: &cache.Disk{Root: t.TempDir()}, S3: fake}

	f, err := r.Open(context.Background(), "s3://survey/tiles/a.fits")
	require.NoError(t, err)
	buf := make([]byte, 3)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "012", string(buf))
	_, err = f.ReadAt(buf, 1000)
	assert.Error(t, err)
	assert.Equal(t, []string{"bytes=0-2", "bytes=1000-1002"}, fake.ranges)

	p, err := r.Materialize(context.Background(), "s3://survey/tiles/a.fits")
	require.NoError(t, err)
	got, err := ioutil.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = r.Materialize(context.Background(), "s3://survey/nope.fits")
	assert.True(t, errors.IsServer(err))
}

func TestRateLimiterBackOffAndRecover(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(content)
	}))
	defer srv.Close()

	limiters := &RateLimiters{RPS: 100, Burst: 10}
	host := srv.Listener.Addr().String()
	client := &http.Client{Transport: limiters.RoundTripper(http.DefaultTransport, host)}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 50.0, limiters.Limit(host))

	limiters.Recover(host)
	assert.Equal(t, 75.0, limiters.Limit(host))
	limiters.Recover(host)
	assert.Equal(t, 100.0, limiters.Limit(host))
}
