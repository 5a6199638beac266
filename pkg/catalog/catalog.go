// Package catalog is the read side of the observation catalog the
// image service works from, plus the write side used by ingestion.
package catalog

import (
	"context"

	"github.com/small-bodies-node/sbnsis/pkg/errors"
)

// Observation is one catalogued image. Values are snapshots; nothing
// in the service changes them.
type Observation struct {
	ObsID            string   `json:"obs_id" yaml:"obs_id"`
	Collection       string   `json:"collection" yaml:"collection"`
	Facility         string   `json:"facility" yaml:"facility"`
	Instrument       string   `json:"instrument" yaml:"instrument"`
	DataProductType  string   `json:"data_product_type" yaml:"data_product_type"`
	CalibrationLevel int      `json:"calibration_level" yaml:"calibration_level"`
	Target           string   `json:"target,omitempty" yaml:"target,omitempty"`
	PixelScale       *float64 `json:"pixel_scale,omitempty" yaml:"pixel_scale,omitempty"`
	ImageURL         string   `json:"image_url" yaml:"image_url"`
	LabelURL         string   `json:"label_url" yaml:"label_url"`
}

// QueryOptions filter a metadata query. Empty strings match anything.
type QueryOptions struct {
	Collection      string
	Facility        string
	Instrument      string
	DataProductType string
	MaxRec          int
	Offset          int
}

// Summary counts the observations of one collection, facility and
// instrument combination.
type Summary struct {
	Collection string `json:"collection"`
	Facility   string `json:"facility"`
	Instrument string `json:"instrument"`
	Count      int    `json:"count"`
}

type Catalog interface {
	// Find returns the observation, or a Missing error.
	Find(ctx context.Context, obsID string) (Observation, error)
	// Query returns the total number of matches and one page of them,
	// ordered by observation id.
	Query(ctx context.Context, opts QueryOptions) (int, []Observation, error)
	Summary(ctx context.Context) ([]Summary, error)
}

type Writer interface {
	// Add inserts observations, replacing any with the same id.
	Add(ctx context.Context, obs ...Observation) error
}

type ReadWriter interface {
	Catalog
	Writer
}

// ErrNotFound is the error for an unknown observation id.
func ErrNotFound(obsID string) *errors.Error {
	return errors.NotFound("image ID %q not found", obsID)
}

func (o QueryOptions) matches(obs Observation) bool {
	return (o.Collection == "" || o.Collection == obs.Collection) &&
		(o.Facility == "" || o.Facility == obs.Facility) &&
		(o.Instrument == "" || o.Instrument == obs.Instrument) &&
		(o.DataProductType == "" || o.DataProductType == obs.DataProductType)
}

func validate(obs Observation) error {
	if obs.ObsID == "" {
		return errors.Invalid("observation has no id")
	}
	if obs.ImageURL == "" {
		return errors.Invalid("observation %s has no image URL", obs.ObsID)
	}
	return nil
}
