package cutout

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"os"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/small-bodies-node/sbnsis/pkg/cache"
	siserr "github.com/small-bodies-node/sbnsis/pkg/errors"
	"github.com/small-bodies-node/sbnsis/pkg/fits"
	sismetrics "github.com/small-bodies-node/sbnsis/pkg/metrics"
	"github.com/small-bodies-node/sbnsis/pkg/source"
	"github.com/small-bodies-node/sbnsis/pkg/wcs"
)

// Sources resolves image references.
type Sources interface {
	Materialize(ctx context.Context, ref string) (string, error)
	Open(ctx context.Context, ref string) (source.File, error)
}

// Provenance is recorded in the header of every cutout.
type Provenance struct {
	Name    string
	Version string
}

// Extractor produces FITS cutouts and caches them.
type Extractor struct {
	Store   *cache.Store
	Sources Sources
	// MaxSize caps the cutout width and height in pixels; zero means
	// no cap.
	MaxSize int
	// Tool handles tile-compressed sources; nil means they cannot be
	// cut.
	Tool       *Tool
	Provenance Provenance
	Logger     log.Logger

	now func() time.Time
}

func (e *Extractor) logger() log.Logger {
	if e.Logger == nil {
		return log.NewNopLogger()
	}
	return e.Logger
}

func (e *Extractor) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// Key is the cache key of the cutout of imageRef described by spec.
func Key(imageRef string, spec Spec) cache.Key {
	return cache.NewKey(imageRef, spec.Canonical(), "fits")
}

// Extract returns the path of a FITS file holding the cutout of the
// image at imageRef, taking the WCS from HDU wcsExt and pixels from
// HDU dataExt. A full size spec returns the source file itself.
// sizeText is recorded in the header as given by the caller.
func (e *Extractor) Extract(ctx context.Context, obsID, imageRef string, wcsExt, dataExt int, spec Spec, sizeText string) (path string, err error) {
	stage := "window"
	defer func(begin time.Time) {
		extractDuration.With(
			sismetrics.LabelStage, stage,
			sismetrics.LabelSuccess, fmt.Sprint(err == nil),
		).Observe(time.Since(begin).Seconds())
	}(time.Now())

	if spec.FullSize() {
		stage = "full"
		return e.Sources.Materialize(ctx, imageRef)
	}

	k := Key(imageRef, spec)
	if p, ok := e.Store.Lookup(k); ok {
		stage = "cached"
		return p, nil
	}

	data, err := e.fromSource(ctx, obsID, imageRef, wcsExt, dataExt, spec, sizeText)
	if errors.Cause(err) == fits.ErrCompressed {
		stage = "tool"
		return e.withTool(ctx, k, obsID, imageRef, wcsExt, spec, sizeText)
	}
	if err != nil {
		return "", err
	}
	p, err := e.Store.Commit(k, data)
	if err != nil {
		return "", siserr.Processing(errors.Wrap(err, "saving cutout"), "")
	}
	e.logger().Log("info", "cutout created", "obs_id", obsID, "cutout", spec.Canonical(), "path", p)
	return p, nil
}

// fromSource reads the window by range where the source allows it and
// from a local copy otherwise.
func (e *Extractor) fromSource(ctx context.Context, obsID, imageRef string, wcsExt, dataExt int, spec Spec, sizeText string) ([]byte, error) {
	f, err := e.Sources.Open(ctx, imageRef)
	if err != nil {
		return nil, err
	}
	data, err := e.cut(f, obsID, wcsExt, dataExt, spec, sizeText)
	f.Close()
	if errors.Cause(err) != source.ErrRangeUnsupported {
		return data, err
	}

	e.logger().Log("info", "source does not support ranges, downloading", "ref", imageRef)
	local, err := e.Sources.Materialize(ctx, imageRef)
	if err != nil {
		return nil, err
	}
	lf, err := os.Open(local)
	if err != nil {
		return nil, siserr.Processing(errors.Wrap(err, "opening source"), "")
	}
	defer lf.Close()
	return e.cut(lf, obsID, wcsExt, dataExt, spec, sizeText)
}

// Window is the pixel region of a cutout, 0-based, after trimming to
// the image.
type Window struct {
	X0, Y0, NX, NY int
}

// Locate computes the window of spec in an image of the given size.
func Locate(w *wcs.WCS, width, height, maxSize int, spec Spec) (Window, error) {
	ra, dec, ok := spec.Center()
	if !ok {
		return Window{0, 0, width, height}, nil
	}
	px, py, err := w.WorldToPixel(ra, dec)
	if err != nil {
		return Window{}, siserr.Invalid("position %g %g is not in the image", ra, dec)
	}
	sx, sy := w.PixelScales()
	nx := pixels(spec.Size().Degrees(), sx, maxSize)
	ny := pixels(spec.Size().Degrees(), sy, maxSize)
	x0 := int(math.Floor(px - float64(nx)/2 + 0.5))
	y0 := int(math.Floor(py - float64(ny)/2 + 0.5))

	x1, y1 := max(x0, 0), max(y0, 0)
	x2, y2 := min(x0+nx, width), min(y0+ny, height)
	if x2 <= x1 || y2 <= y1 {
		return Window{}, siserr.Invalid("position %g %g is not in the image", ra, dec)
	}
	return Window{X0: x1, Y0: y1, NX: x2 - x1, NY: y2 - y1}, nil
}

// pixels is size/scale rounded and clamped to [1, maxSize]. The clamp
// happens before the conversion, so a huge size cannot overflow int.
func pixels(size, scale float64, maxSize int) int {
	v := math.Round(size / scale)
	if math.IsNaN(v) || v < 1 {
		v = 1
	}
	limit := float64(math.MaxInt32)
	if maxSize > 0 {
		limit = float64(maxSize)
	}
	return int(math.Min(v, limit))
}

func (e *Extractor) cut(r io.ReaderAt, obsID string, wcsExt, dataExt int, spec Spec, sizeText string) ([]byte, error) {
	ff := fits.Open(r)
	wh, err := ff.HDU(wcsExt)
	if err != nil {
		return nil, readError(err)
	}
	w, dropped, err := wcs.FromHeaderRepaired(wh.Header)
	if err != nil {
		return nil, siserr.Processing(errors.Wrap(err, "reading world coordinate system"), "")
	}
	if len(dropped) > 0 {
		e.logger().Log("info", "ignored conflicting header keywords", "obs_id", obsID, "keys", fmt.Sprint(dropped))
	}

	dh, err := ff.HDU(dataExt)
	if err != nil {
		return nil, readError(err)
	}
	im, err := dh.Image()
	if err != nil {
		return nil, readError(err)
	}
	if im.Compressed {
		return nil, fits.ErrCompressed
	}
	win, err := Locate(w, im.Width, im.Height, e.MaxSize, spec)
	if err != nil {
		return nil, err
	}
	raw, err := dh.ReadWindow(win.X0, win.Y0, win.NX, win.NY)
	if err != nil {
		return nil, readError(err)
	}

	h := dh.Header.Clone()
	h.Delete(dropped...)
	w.Crop(win.X0, win.Y0).Apply(h)
	e.annotate(h, obsID, spec, sizeText)

	out := im
	out.Width, out.Height = win.NX, win.NY
	var buf bytes.Buffer
	if err := fits.WriteImage(&buf, h, out, raw); err != nil {
		return nil, siserr.Processing(errors.Wrap(err, "writing cutout"), "")
	}
	return buf.Bytes(), nil
}

func (e *Extractor) annotate(h *fits.Header, obsID string, spec Spec, sizeText string) {
	ra, dec, _ := spec.Center()
	if sizeText == "" {
		sizeText = spec.Size().String()
	}
	h.Delete("SISOBSID", "SISRA", "SISDEC", "SISSIZE")
	h.Set("SISOBSID", obsID, "observation ID")
	h.Set("SISRA", ra, "[deg] cutout center RA")
	h.Set("SISDEC", dec, "[deg] cutout center Dec")
	h.Set("SISSIZE", sizeText, "cutout size")
	name := e.Provenance.Name
	if name == "" {
		name = "sbnsis"
	}
	h.AddComment(fmt.Sprintf("Cutout created by %s %s", name, e.Provenance.Version))
	h.AddComment("at " + e.clock().UTC().Format("2006-01-02T15:04:05Z"))
}

func readError(err error) error {
	if err == fits.ErrCompressed || errors.Cause(err) == source.ErrRangeUnsupported {
		return err
	}
	if _, ok := siserr.As(err); ok {
		return err
	}
	return siserr.Processing(errors.Wrap(err, "reading image"), "")
}

// withTool cuts a tile-compressed image with the external program. The
// window size comes from the WCS, which is readable from the headers.
func (e *Extractor) withTool(ctx context.Context, k cache.Key, obsID, imageRef string, wcsExt int, spec Spec, sizeText string) (string, error) {
	if !e.Tool.CanCut() {
		return "", siserr.Processing(errors.Errorf("%s is tile-compressed and no cutout program is configured", imageRef), "")
	}
	local, err := e.Sources.Materialize(ctx, imageRef)
	if err != nil {
		return "", err
	}
	f, err := os.Open(local)
	if err != nil {
		return "", siserr.Processing(errors.Wrap(err, "opening source"), "")
	}
	wh, err := fits.Open(f).HDU(wcsExt)
	f.Close()
	if err != nil {
		return "", readError(err)
	}
	w, _, err := wcs.FromHeaderRepaired(wh.Header)
	if err != nil {
		return "", siserr.Processing(errors.Wrap(err, "reading world coordinate system"), "")
	}
	sx, sy := w.PixelScales()
	n := pixels(spec.Size().Degrees(), (sx+sy)/2, e.MaxSize)
	ra, dec, _ := spec.Center()

	dst := e.Store.Path(k)
	if err := cache.WritePathWith(dst, func(tmp string) error {
		if err := e.Tool.Cut(ctx, local, tmp, ra, dec, n); err != nil {
			return err
		}
		return e.annotateFile(tmp, obsID, spec, sizeText)
	}); err != nil {
		if _, ok := siserr.As(err); ok {
			return "", err
		}
		return "", siserr.Processing(errors.Wrap(err, "saving cutout"), "")
	}
	e.Store.Publish(k)
	e.logger().Log("info", "cutout created with external program", "obs_id", obsID, "cutout", spec.Canonical(), "path", dst)
	return dst, nil
}

// annotateFile rewrites the primary image of a program-made cutout with
// the same header cards as cutouts made here.
func (e *Extractor) annotateFile(path, obsID string, spec Spec, sizeText string) error {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading program output")
	}
	hdu, err := fits.Open(bytes.NewReader(b)).HDU(0)
	if err != nil {
		return errors.Wrap(err, "reading program output")
	}
	im, err := hdu.Image()
	if err != nil {
		return errors.Wrap(err, "reading program output")
	}
	raw, err := hdu.ReadWindow(0, 0, im.Width, im.Height)
	if err != nil {
		return errors.Wrap(err, "reading program output")
	}
	h := hdu.Header.Clone()
	e.annotate(h, obsID, spec, sizeText)
	var buf bytes.Buffer
	if err := fits.WriteImage(&buf, h, im, raw); err != nil {
		return errors.Wrap(err, "writing cutout")
	}
	return ioutil.WriteFile(path, buf.Bytes(), cache.FileMode)
}

// Plain returns a local path and HDU index from which the whole image
// of imageRef can be read by window. Tile-compressed images are
// decompressed once with the external program and cached.
func (e *Extractor) Plain(ctx context.Context, imageRef string, dataExt int) (string, int, error) {
	local, err := e.Sources.Materialize(ctx, imageRef)
	if err != nil {
		return "", 0, err
	}
	f, err := os.Open(local)
	if err != nil {
		return "", 0, siserr.Processing(errors.Wrap(err, "opening source"), "")
	}
	hdu, err := fits.Open(f).HDU(dataExt)
	var im fits.Image
	if err == nil {
		im, err = hdu.Image()
	}
	f.Close()
	if err != nil {
		return "", 0, readError(err)
	}
	if !im.Compressed {
		return local, dataExt, nil
	}

	k := cache.NewKey(imageRef, "decompressed", "fits")
	if p, ok := e.Store.Lookup(k); ok {
		return p, dataExt, nil
	}
	if !e.Tool.CanUnpack() {
		return "", 0, siserr.Processing(errors.Errorf("%s is tile-compressed and no decompression program is configured", imageRef), "")
	}
	dst := e.Store.Path(k)
	if err := cache.WritePathWith(dst, func(tmp string) error {
		return e.Tool.Unpack(ctx, local, tmp)
	}); err != nil {
		if _, ok := siserr.As(err); ok {
			return "", 0, err
		}
		return "", 0, siserr.Processing(errors.Wrap(err, "saving decompressed image"), "")
	}
	e.Store.Publish(k)
	// funpack keeps the HDU layout, so the image index is unchanged
	return dst, dataExt, nil
}
