package client

import (
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/small-bodies-node/sbnsis/pkg/catalog"
	siserr "github.com/small-bodies-node/sbnsis/pkg/errors"
	transport "github.com/small-bodies-node/sbnsis/pkg/http"
	"github.com/small-bodies-node/sbnsis/pkg/http/httperror"
	"github.com/small-bodies-node/sbnsis/pkg/service"
)

// Client talks to the image service HTTP API.
type Client struct {
	client   *http.Client
	router   *mux.Router
	endpoint string
}

func New(c *http.Client, router *mux.Router, endpoint string) *Client {
	return &Client{
		client:   c,
		router:   router,
		endpoint: endpoint,
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.Get(ctx, nil, transport.Ping, nil)
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var v string
	err := c.Get(ctx, &v, transport.Version, nil)
	return v, err
}

func (c *Client) Query(ctx context.Context, q service.QueryRequest) (service.QueryResult, error) {
	var res service.QueryResult
	err := c.Get(ctx, &res, transport.Query, nil,
		"collection", q.Collection,
		"facility", q.Facility,
		"instrument", q.Instrument,
		"dptype", q.DataProductType,
		"format", q.Format,
		"maxrec", intString(q.MaxRec),
		"offset", intString(q.Offset),
	)
	return res, err
}

func (c *Client) Summary(ctx context.Context) ([]catalog.Summary, error) {
	var res []catalog.Summary
	err := c.Get(ctx, &res, transport.Summary, nil)
	return res, err
}

// Image writes the requested image to dst and returns the file name
// the service suggests for it.
func (c *Client) Image(ctx context.Context, req service.ImageRequest, dst io.Writer) (string, error) {
	params := []string{"format", req.Format, "size", req.Size}
	if req.RA != nil {
		params = append(params, "ra", strconv.FormatFloat(*req.RA, 'f', -1, 64))
	}
	if req.Dec != nil {
		params = append(params, "dec", strconv.FormatFloat(*req.Dec, 'f', -1, 64))
	}
	if req.Align {
		params = append(params, "align", "true")
	}
	return c.download(ctx, dst, []string{"id", req.ObsID}, params...)
}

// Label writes the PDS label of an image to dst.
func (c *Client) Label(ctx context.Context, obsID string, dst io.Writer) (string, error) {
	return c.download(ctx, dst, []string{"id", obsID}, "format", transport.FormatLabel)
}

func (c *Client) download(ctx context.Context, dst io.Writer, routeVars []string, queryParams ...string) (string, error) {
	u, err := transport.MakeURL(c.endpoint, c.router, transport.Images, routeVars, append(queryParams, "download", "true")...)
	if err != nil {
		return "", errors.Wrap(err, "constructing URL")
	}
	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return "", errors.Wrapf(err, "constructing request %s", u)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "*/*, application/json;q=0.9")

	resp, err := c.executeRequest(req)
	if err != nil {
		return "", errors.Wrap(err, "executing HTTP request")
	}
	defer resp.Body.Close()

	var name string
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		name = params["filename"]
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return name, errors.Wrap(err, "reading response from server")
	}
	return name, nil
}

// Get executes a get request against the service. It unmarshals the
// response into dest, if not nil.
func (c *Client) Get(ctx context.Context, dest interface{}, route string, routeVars []string, queryParams ...string) error {
	u, err := transport.MakeURL(c.endpoint, c.router, route, routeVars, queryParams...)
	if err != nil {
		return errors.Wrap(err, "constructing URL")
	}

	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return errors.Wrapf(err, "constructing request %s", u)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")

	resp, err := c.executeRequest(req)
	if err != nil {
		return errors.Wrap(err, "executing HTTP request")
	}
	defer resp.Body.Close()

	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return errors.Wrap(err, "decoding response from server")
		}
	}
	return nil
}

func (c *Client) executeRequest(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "executing HTTP request")
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return resp, nil
	default:
		defer resp.Body.Close()
		body, err := ioutil.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, "reading response body of error")
		}
		// The service's own errors come as JSON; anything else was
		// probably produced by a proxy in front of it.
		if strings.HasPrefix(resp.Header.Get(http.CanonicalHeaderKey("Content-Type")), "application/json") {
			var niceError siserr.Error
			if err := json.Unmarshal(body, &niceError); err != nil {
				return nil, errors.Wrap(err, "decoding response body of error")
			}
			if niceError.Err != nil {
				return nil, &niceError
			}
		}
		return nil, &httperror.APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}
}

func intString(i int) string {
	if i == 0 {
		return ""
	}
	return strconv.Itoa(i)
}
