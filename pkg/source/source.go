// Package source resolves image and label references (local paths,
// file://, http(s):// and s3:// URLs) to readable data.
//
// Remote references can be opened for ranged reads, so a cutout needs
// only the bytes it covers, or materialised: downloaded once into the
// cache directory and reused from there.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/ryanuber/go-glob"

	"github.com/small-bodies-node/sbnsis/pkg/cache"
	siserr "github.com/small-bodies-node/sbnsis/pkg/errors"
	sismetrics "github.com/small-bodies-node/sbnsis/pkg/metrics"
)

// File is an open source.
type File interface {
	io.ReaderAt
	io.Closer
}

// ErrRangeUnsupported is returned by remote reads when the server
// ignores range requests. Callers should fall back to Materialize.
var ErrRangeUnsupported = errors.New("server does not support range requests")

type Resolver struct {
	// Disk holds materialised copies of remote sources.
	Disk   *cache.Disk
	Client *http.Client
	// Limiters rate limits HTTP fetches per host; nil means no limit.
	Limiters *RateLimiters
	// S3 serves s3://bucket/key references; nil disables them.
	S3 s3iface.S3API
	// Exclude lists glob patterns of hosts that must not be fetched.
	Exclude []string
	Logger  log.Logger
}

type ref struct {
	raw    string
	scheme string
	host   string
	path   string
}

func (r *Resolver) parse(raw string) (ref, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// bare paths, including Windows drive letters
		return ref{raw: raw, scheme: "file", path: raw}, nil
	}
	switch u.Scheme {
	case "file":
		return ref{raw: raw, scheme: "file", path: u.Path}, nil
	case "http", "https", "s3":
		for _, pattern := range r.Exclude {
			if glob.Glob(pattern, u.Hostname()) {
				return ref{}, siserr.Invalid("source host %s is not allowed", u.Hostname())
			}
		}
		p := u.Path
		if u.Scheme == "s3" {
			p = strings.TrimPrefix(p, "/")
		}
		return ref{raw: raw, scheme: u.Scheme, host: u.Host, path: p}, nil
	}
	return ref{}, siserr.Processing(errors.Errorf("unsupported source scheme %q", u.Scheme), "")
}

func (r *Resolver) logger() log.Logger {
	if r.Logger == nil {
		return log.NewNopLogger()
	}
	return r.Logger
}

// Materialize returns a local path holding the content of raw. Local
// references resolve to their absolute path without being copied;
// remote ones are downloaded on first use.
func (r *Resolver) Materialize(ctx context.Context, raw string) (string, error) {
	ref, err := r.parse(raw)
	if err != nil {
		return "", err
	}
	if ref.scheme == "file" {
		p, err := filepath.Abs(ref.path)
		if err != nil {
			return "", siserr.Processing(errors.Wrap(err, "resolving path"), "")
		}
		return p, nil
	}
	if r.Disk == nil {
		return "", siserr.Processing(errors.New("no cache directory for remote sources"), "")
	}
	k := cache.NewKey(raw)
	if r.Disk.Has(k) {
		return r.Disk.Path(k), nil
	}

	begin := time.Now()
	err = r.download(ctx, ref, r.Disk.Path(k))
	materializeDuration.With(
		sismetrics.LabelSource, ref.scheme,
		sismetrics.LabelSuccess, fmt.Sprint(err == nil),
	).Observe(time.Since(begin).Seconds())
	if err != nil {
		return "", err
	}
	r.logger().Log("info", "materialised remote source", "ref", raw, "path", r.Disk.Path(k))
	return r.Disk.Path(k), nil
}

// Open returns a ranged reader over raw. A remote source that has
// already been materialised is read from disk.
func (r *Resolver) Open(ctx context.Context, raw string) (File, error) {
	ref, err := r.parse(raw)
	if err != nil {
		return nil, err
	}
	if ref.scheme == "file" {
		f, err := os.Open(ref.path)
		if err != nil {
			return nil, siserr.Processing(errors.Wrap(err, "opening source"), "")
		}
		return f, nil
	}
	if r.Disk != nil {
		if k := cache.NewKey(raw); r.Disk.Has(k) {
			if f, err := os.Open(r.Disk.Path(k)); err == nil {
				return f, nil
			}
		}
	}
	switch ref.scheme {
	case "s3":
		if r.S3 == nil {
			return nil, siserr.Processing(errors.New("s3 sources are not configured"), "")
		}
		return &s3Reader{ctx: ctx, client: r.S3, bucket: ref.host, key: ref.path}, nil
	default:
		return &httpReader{ctx: ctx, client: r.httpClient(ref.host), url: raw, host: ref.host, limiters: r.Limiters}, nil
	}
}

func (r *Resolver) httpClient(host string) *http.Client {
	base := r.Client
	if base == nil {
		base = http.DefaultClient
	}
	if r.Limiters == nil {
		return base
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	c := *base
	c.Transport = r.Limiters.RoundTripper(rt, host)
	return &c
}

func (r *Resolver) download(ctx context.Context, ref ref, path string) error {
	body, err := r.fetch(ctx, ref)
	if err != nil {
		return siserr.Processing(errors.Wrapf(err, "retrieving %s", ref.raw), "")
	}
	defer body.Close()
	if err := cache.WriteFileWith(path, func(f *os.File) error {
		_, err := io.Copy(f, body)
		return err
	}); err != nil {
		return siserr.Processing(errors.Wrapf(err, "saving %s", ref.raw), "")
	}
	return nil
}

func (r *Resolver) fetch(ctx context.Context, ref ref) (io.ReadCloser, error) {
	if ref.scheme == "s3" {
		if r.S3 == nil {
			return nil, errors.New("s3 sources are not configured")
		}
		return getObject(ctx, r.S3, ref.host, ref.path, "")
	}
	req, err := http.NewRequest("GET", ref.raw, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient(ref.host).Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Errorf("GET %s: %s", ref.raw, resp.Status)
	}
	if r.Limiters != nil {
		r.Limiters.Recover(ref.host)
	}
	return resp.Body, nil
}
