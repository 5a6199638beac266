// Package service is the image service proper: it answers image,
// label and metadata requests from the catalog, the cutout engine and
// the renderer, and leaves transport to its callers.
package service

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/go-kit/kit/log"

	"github.com/small-bodies-node/sbnsis/pkg/cache"
	"github.com/small-bodies-node/sbnsis/pkg/catalog"
	"github.com/small-bodies-node/sbnsis/pkg/cutout"
	"github.com/small-bodies-node/sbnsis/pkg/errors"
	"github.com/small-bodies-node/sbnsis/pkg/format"
	"github.com/small-bodies-node/sbnsis/pkg/render"
)

const (
	DefaultMaxRec = 100
	MaxResults    = 10000
)

type Service struct {
	Catalog   catalog.Catalog
	Sources   cutout.Sources
	Store     *cache.Store
	Extractor *cutout.Extractor
	Renderer  *render.Renderer
	// PublicURL is the externally visible root of the images
	// endpoint, used to build access URLs in query results.
	PublicURL string
	Logger    log.Logger
}

func (s *Service) logger() log.Logger {
	if s.Logger == nil {
		return log.NewNopLogger()
	}
	return s.Logger
}

// Image returns the path of the requested image and a file name to
// offer for download.
func (s *Service) Image(ctx context.Context, req ImageRequest) (string, string, error) {
	f, err := req.Validate()
	if err != nil {
		return "", "", err
	}
	obs, err := s.Catalog.Find(ctx, req.ObsID)
	if err != nil {
		return "", "", err
	}
	spec, err := cutout.NewSpec(req.RA, req.Dec, req.Size)
	if err != nil {
		return "", "", err
	}
	name := downloadName(obs.ImageURL, spec, req.Size, f)
	ext := extension(obs.ImageURL)

	if !f.Raster() {
		p, err := s.Extractor.Extract(ctx, obs.ObsID, obs.ImageURL, ext, ext, spec, req.Size)
		return p, name, err
	}

	k := cache.NewKey(obs.ImageURL, spec.Canonical(), f.Name, "align="+strconv.FormatBool(req.Align))
	if p, ok := s.Store.Lookup(k); ok {
		return p, name, nil
	}

	job := render.Job{Output: s.Store.Path(k), Format: f, Align: req.Align}
	if spec.FullSize() {
		job.Source, job.DataExt, err = s.Extractor.Plain(ctx, obs.ImageURL, ext)
		job.WCSExt = job.DataExt
	} else {
		job.Source, err = s.Extractor.Extract(ctx, obs.ObsID, obs.ImageURL, ext, ext, spec, req.Size)
	}
	if err != nil {
		return "", "", err
	}
	if err := s.Renderer.Render(ctx, job); err != nil {
		return "", "", err
	}
	s.Store.Publish(k)
	s.logger().Log("info", "browse image created", "obs_id", obs.ObsID, "cutout", spec.Canonical(), "format", f, "align", req.Align, "path", job.Output)
	return job.Output, name, nil
}

// downloadName is the image's base name, with the cutout centre and
// size added for cutouts.
func downloadName(imageRef string, spec cutout.Spec, sizeText string, f format.Format) string {
	base := baseName(imageRef)
	ra, dec, ok := spec.Center()
	if !ok && f == format.FITS {
		return base
	}
	base = strings.TrimSuffix(base, ".fz")
	base = strings.TrimSuffix(base, path.Ext(base))
	if ok {
		if sizeText == "" {
			sizeText = spec.Size().String()
		}
		base += fmt.Sprintf("_%+.5f%+.5f_%s", ra, dec, strings.Replace(sizeText, " ", "", -1))
	}
	return base + "." + f.Extension
}

// Label returns the path of the observation's label and its base
// name.
func (s *Service) Label(ctx context.Context, obsID string) (string, string, error) {
	obs, err := s.Catalog.Find(ctx, obsID)
	if err != nil {
		return "", "", err
	}
	if obs.LabelURL == "" {
		return "", "", errors.NotFound("image ID %q has no label", obsID)
	}
	p, err := s.Sources.Materialize(ctx, obs.LabelURL)
	if err != nil {
		return "", "", err
	}
	return p, baseName(obs.LabelURL), nil
}

// QueryRequest filters a metadata query. Format is used in the access
// URLs of the results.
type QueryRequest struct {
	Collection      string
	Facility        string
	Instrument      string
	DataProductType string
	Format          string
	MaxRec          int
	Offset          int
}

// Match is one query result.
type Match struct {
	ObsID            string   `json:"obs_id"`
	Collection       string   `json:"collection"`
	Facility         string   `json:"facility"`
	Instrument       string   `json:"instrument"`
	DataProductType  string   `json:"dptype"`
	CalibrationLevel int      `json:"calibration_level"`
	Target           string   `json:"target"`
	PixelScale       *float64 `json:"pixel_scale"`
	AccessURL        string   `json:"access_url"`
}

type QueryResult struct {
	Count   int     `json:"count"`
	Offset  int     `json:"offset"`
	Matches []Match `json:"matches"`
}

// Query searches the catalog. MaxRec defaults to DefaultMaxRec.
func (s *Service) Query(ctx context.Context, q QueryRequest) (QueryResult, error) {
	f, err := format.Resolve(q.Format)
	if err != nil {
		return QueryResult{}, err
	}
	if q.MaxRec == 0 {
		q.MaxRec = DefaultMaxRec
	}
	if q.MaxRec < 1 || q.MaxRec > MaxResults {
		return QueryResult{}, errors.Invalid("maxrec must be between 1 and %d", MaxResults)
	}
	if q.Offset < 0 {
		return QueryResult{}, errors.Invalid("offset must not be negative")
	}
	count, found, err := s.Catalog.Query(ctx, catalog.QueryOptions{
		Collection:      q.Collection,
		Facility:        q.Facility,
		Instrument:      q.Instrument,
		DataProductType: q.DataProductType,
		MaxRec:          q.MaxRec,
		Offset:          q.Offset,
	})
	if err != nil {
		return QueryResult{}, err
	}
	result := QueryResult{Count: count, Offset: q.Offset, Matches: make([]Match, 0, len(found))}
	for _, obs := range found {
		result.Matches = append(result.Matches, Match{
			ObsID:            obs.ObsID,
			Collection:       obs.Collection,
			Facility:         obs.Facility,
			Instrument:       obs.Instrument,
			DataProductType:  obs.DataProductType,
			CalibrationLevel: obs.CalibrationLevel,
			Target:           obs.Target,
			PixelScale:       obs.PixelScale,
			AccessURL:        s.accessURL(obs.ObsID, f),
		})
	}
	return result, nil
}

func (s *Service) accessURL(obsID string, f format.Format) string {
	root := strings.TrimSuffix(s.PublicURL, "/")
	return fmt.Sprintf("%s/images/%s?format=%s", root, url.PathEscape(obsID), f)
}

// Summary counts the catalogued observations per collection, facility
// and instrument.
func (s *Service) Summary(ctx context.Context) ([]catalog.Summary, error) {
	return s.Catalog.Summary(ctx)
}
