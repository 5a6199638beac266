package source

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// httpReader reads byte ranges of a remote file with one HTTP range
// request per ReadAt.
type httpReader struct {
	ctx      context.Context
	client   *http.Client
	url      string
	host     string
	limiters *RateLimiters
}

func (r *httpReader) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	req, err := http.NewRequest("GET", r.url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1))
	resp, err := r.client.Do(req.WithContext(r.ctx))
	if err != nil {
		return 0, errors.Wrapf(err, "range request to %s", r.url)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	case http.StatusOK:
		return 0, ErrRangeUnsupported
	default:
		return 0, errors.Errorf("range request to %s: %s", r.url, resp.Status)
	}
	n, err := io.ReadFull(resp.Body, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	if err == nil && r.limiters != nil {
		r.limiters.Recover(r.host)
	}
	return n, err
}

func (r *httpReader) Close() error {
	return nil
}
