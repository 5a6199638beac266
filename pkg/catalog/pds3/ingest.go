package pds3

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/small-bodies-node/sbnsis/pkg/catalog"
)

// DefaultExtensions are the file extensions treated as labels when
// walking a directory.
var DefaultExtensions = []string{".lbl", ".xml"}

// ErrImageNotFound is returned when the file a label points at is not
// present, with or without the .fz suffix.
var ErrImageNotFound = errors.New("could not find image")

// Ingester adds labelled images to a catalog.
type Ingester struct {
	Catalog catalog.Writer
	// BaseURL is prepended to the label and image paths, after
	// StripLeading is removed from them. Empty means file://.
	BaseURL      string
	StripLeading string
	// Facility overrides INSTRUMENT_HOST_NAME when set.
	Facility string
	Logger   log.Logger
	// Progress, when set, is called after every label considered.
	Progress func(path string, added bool)
}

// Observation reads the label at path and builds its catalog entry,
// with local paths for the label and image.
func (in *Ingester) Observation(path string) (catalog.Observation, error) {
	l, err := ReadFile(path)
	if err != nil {
		return catalog.Observation{}, err
	}
	obs := catalog.Observation{
		ObsID:           l.String("PRODUCT_ID"),
		Collection:      l.String("DATA_SET_ID"),
		Facility:        l.String("INSTRUMENT_HOST_NAME"),
		Instrument:      l.String("INSTRUMENT_NAME"),
		Target:          l.String("TARGET_NAME"),
		DataProductType: "image",
		LabelURL:        path,
	}
	if in.Facility != "" {
		obs.Facility = in.Facility
	}
	if obs.ObsID == "" {
		return obs, errors.Errorf("label %s has no PRODUCT_ID", path)
	}
	if v, ok := l.Get("IMAGE.HORIZONTAL_PIXEL_FOV"); ok {
		if scale, err := v.Float(); err == nil && scale > 0 {
			obs.PixelScale = &scale
		}
	}

	pointer, ok := l.Get("^IMAGE")
	if !ok || pointer.String() == "" {
		return obs, errors.Errorf("label %s has no ^IMAGE pointer", path)
	}
	image := filepath.Join(filepath.Dir(path), strings.ToLower(pointer.String()))
	if !exists(image) {
		image += ".fz"
	}
	if !exists(image) {
		return obs, errors.Wrapf(ErrImageNotFound, "in %s", path)
	}
	obs.ImageURL = image
	return obs, nil
}

// AddLabel ingests one label. Labels that cannot be read, or whose
// image is missing, are logged and reported as not added; only
// catalog write failures are returned.
func (in *Ingester) AddLabel(ctx context.Context, path string) (bool, error) {
	if !IsLabel(path) {
		in.logger().Log("label", path, "err", "not a PDS3 label")
		return false, nil
	}
	obs, err := in.Observation(path)
	if err != nil {
		in.logger().Log("label", path, "err", err)
		return false, nil
	}
	obs.LabelURL = in.url(obs.LabelURL)
	obs.ImageURL = in.url(obs.ImageURL)
	if err := in.Catalog.Add(ctx, obs); err != nil {
		return false, errors.Wrapf(err, "adding %s", obs.ObsID)
	}
	in.logger().Log("info", "added", "label", path, "obs_id", obs.ObsID)
	return true, nil
}

// AddDirectory ingests every file under dir whose extension is in
// extensions (DefaultExtensions if nil), descending into
// subdirectories only when recursive is set. It returns the number of
// label files found and the number added.
func (in *Ingester) AddDirectory(ctx context.Context, dir string, recursive bool, extensions []string) (found, added int, err error) {
	if extensions == nil {
		extensions = DefaultExtensions
	}
	want := map[string]bool{}
	for _, e := range extensions {
		want[strings.ToLower(e)] = true
	}
	in.logger().Log("info", "searching directory", "dir", dir, "recursive", recursive)

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !want[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		found++
		ok, err := in.AddLabel(ctx, path)
		if err != nil {
			return err
		}
		if ok {
			added++
		}
		if in.Progress != nil {
			in.Progress(path, ok)
		}
		return nil
	})
	in.logger().Log("info", "directory done", "dir", dir, "found", found, "added", added)
	return found, added, err
}

func (in *Ingester) url(path string) string {
	base := in.BaseURL
	if base == "" {
		base = "file://"
	}
	return base + strings.TrimPrefix(path, in.StripLeading)
}

func (in *Ingester) logger() log.Logger {
	if in.Logger == nil {
		return log.NewNopLogger()
	}
	return in.Logger
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
