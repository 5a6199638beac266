package server

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/weaveworks/common/middleware"

	"github.com/small-bodies-node/sbnsis/pkg/catalog"
	transport "github.com/small-bodies-node/sbnsis/pkg/http"
	sismetrics "github.com/small-bodies-node/sbnsis/pkg/metrics"
	"github.com/small-bodies-node/sbnsis/pkg/service"
)

var (
	requestDuration = stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: sismetrics.Namespace,
		Name:      "request_duration_seconds",
		Help:      "Time (in seconds) spent serving HTTP requests.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{sismetrics.LabelMethod, sismetrics.LabelRoute, "status_code", "ws"})
)

func init() {
	stdprometheus.MustRegister(requestDuration)
}

// Service is what the HTTP API exposes.
type Service interface {
	Image(ctx context.Context, req service.ImageRequest) (string, string, error)
	Label(ctx context.Context, obsID string) (string, string, error)
	Query(ctx context.Context, q service.QueryRequest) (service.QueryResult, error)
	Summary(ctx context.Context) ([]catalog.Summary, error)
}

// An API server for the image service
func NewRouter() *mux.Router {
	r := transport.NewAPIRouter()

	// Every request that doesn't match a route is answered with the
	// list of the routes that do exist.
	r.NewRoute().Name("NotFound").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transport.WriteError(w, r, http.StatusNotFound, transport.MakeAPINotFound(r.URL.Path))
	})

	return r
}

func NewHandler(s Service, version string, r *mux.Router, logger log.Logger) http.Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	handle := HTTPServer{server: s, version: version, logger: logger}

	r.Get(transport.Ping).HandlerFunc(handle.Ping)
	r.Get(transport.Version).HandlerFunc(handle.Version)
	r.Get(transport.Images).HandlerFunc(handle.Images)
	r.Get(transport.Query).HandlerFunc(handle.Query)
	r.Get(transport.Summary).HandlerFunc(handle.Summary)

	return middleware.Instrument{
		RouteMatcher: r,
		Duration:     requestDuration,
	}.Wrap(r)
}

type HTTPServer struct {
	server  Service
	version string
	logger  log.Logger
}

// job tags the log lines of one request.
func (s HTTPServer) job(r *http.Request) log.Logger {
	return log.With(s.logger, "job", uuid.New().String(), "path", r.URL.Path)
}

func (s HTTPServer) Ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s HTTPServer) Version(w http.ResponseWriter, r *http.Request) {
	transport.JSONResponse(w, r, s.version)
}

func (s HTTPServer) Images(w http.ResponseWriter, r *http.Request) {
	logger := s.job(r)
	begin := time.Now()
	q := r.URL.Query()
	req := service.ImageRequest{
		ObsID:  mux.Vars(r)["id"],
		Size:   q.Get("size"),
		Format: q.Get("format"),
	}
	var err error
	if req.RA, err = floatParam(q, "ra"); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	if req.Dec, err = floatParam(q, "dec"); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	if req.Align, err = boolParam(q, "align"); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	download, err := boolParam(q, "download")
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	logger.Log("obs_id", req.ObsID, "ra", q.Get("ra"), "dec", q.Get("dec"), "size", req.Size, "format", req.Format, "align", req.Align)

	var path, name string
	if strings.EqualFold(req.Format, transport.FormatLabel) {
		path, name, err = s.server.Label(r.Context(), req.ObsID)
	} else {
		path, name, err = s.server.Image(r.Context(), req)
	}
	if err != nil {
		logger.Log("err", err)
		transport.ErrorResponse(w, r, err)
		return
	}
	contentType := service.MIMEType(name)
	logger.Log("file", path, "download", name, "mime", contentType, "took", time.Since(begin))
	transport.FileResponse(w, r, path, name, contentType, download)
}

func (s HTTPServer) Query(w http.ResponseWriter, r *http.Request) {
	logger := s.job(r)
	q := r.URL.Query()
	req := service.QueryRequest{
		Collection:      q.Get("collection"),
		Facility:        q.Get("facility"),
		Instrument:      q.Get("instrument"),
		DataProductType: q.Get("dptype"),
		Format:          q.Get("format"),
	}
	var err error
	if req.MaxRec, err = intParam(q, "maxrec"); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	if req.Offset, err = intParam(q, "offset"); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	logger.Log("query", r.URL.RawQuery)

	result, err := s.server.Query(r.Context(), req)
	if err != nil {
		logger.Log("err", err)
		transport.ErrorResponse(w, r, err)
		return
	}
	logger.Log("count", result.Count, "returned", len(result.Matches))
	transport.JSONResponse(w, r, result)
}

func (s HTTPServer) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.server.Summary(r.Context())
	if err != nil {
		s.job(r).Log("err", err)
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, summary)
}

// --- query parameters

func floatParam(q map[string][]string, name string) (*float64, error) {
	raw := first(q, name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
		err = errors.New("not a finite number")
	}
	if err != nil {
		return nil, transport.MakeBadParameter(name, raw, err)
	}
	return &v, nil
}

func intParam(q map[string][]string, name string) (int, error) {
	raw := first(q, name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, transport.MakeBadParameter(name, raw, err)
	}
	return v, nil
}

func boolParam(q map[string][]string, name string) (bool, error) {
	raw := first(q, name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, transport.MakeBadParameter(name, raw, err)
	}
	return v, nil
}

func first(q map[string][]string, name string) string {
	if vs := q[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}
