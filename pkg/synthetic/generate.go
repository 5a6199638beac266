package synthetic

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/small-bodies-node/sbnsis/pkg/cache"
)

const (
	DefaultPositions = 400
	DefaultSize      = 300

	// Collection is the DATA_SET_ID of every generated label.
	Collection = "test-collection"
)

// Generator writes a data set of images and PDS3 labels: two images,
// one RA-valued and one Dec-valued, at each of about Positions
// places spread over the sky.
type Generator struct {
	Dir       string
	Positions int
	Size      int
	Logger    log.Logger
	// Progress, when set, is called once per file pair written or
	// found already present.
	Progress func()
}

// Total is the number of image and label pairs Run will produce.
func (g *Generator) Total() int {
	return 2 * len(SphericalDistribution(g.positions()))
}

func (g *Generator) positions() int {
	if g.Positions <= 0 {
		return DefaultPositions
	}
	return g.Positions
}

func (g *Generator) size() int {
	if g.Size <= 0 {
		return DefaultSize
	}
	return g.Size
}

// PixelScale is the pixel size of the generated images, in degrees:
// each image covers a tenth of the area allotted to its position.
func (g *Generator) PixelScale() float64 {
	centers := SphericalDistribution(g.positions())
	return math.Sqrt(4*math.Pi/float64(len(centers))) * 180 / math.Pi / float64(g.size()) / 10
}

// Run writes the data set and returns the label paths. Files already
// present are kept.
func (g *Generator) Run(ctx context.Context) ([]string, error) {
	logger := g.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if err := os.MkdirAll(g.Dir, 0775); err != nil {
		return nil, errors.Wrap(err, "creating test data directory")
	}
	centers := SphericalDistribution(g.positions())
	scale := g.PixelScale()
	labels := make([]string, 2*len(centers))
	logger.Log("info", "creating test images and labels", "count", len(labels), "dir", g.Dir)

	var created int64
	var progress sync.Mutex
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.NumCPU())
	for i, c := range centers {
		for j, axis := range []Axis{RA, Dec} {
			n := 2*i + j + 1
			im := Image{Center: c, Size: g.size(), Scale: scale, Values: axis}
			eg.Go(func() error {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				label, made, err := g.write(n, im)
				if err != nil {
					return err
				}
				labels[n-1] = label
				if made {
					atomic.AddInt64(&created, 1)
				}
				if g.Progress != nil {
					progress.Lock()
					g.Progress()
					progress.Unlock()
				}
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	logger.Log("info", "test data ready", "created", created, "total", len(labels))
	return labels, nil
}

// ProductID names the n-th generated observation.
func ProductID(n int, axis Axis) string {
	return fmt.Sprintf("test-%06d-%s", n, axis)
}

func (g *Generator) write(n int, im Image) (string, bool, error) {
	id := ProductID(n, im.Values)
	image := filepath.Join(g.Dir, id+".fits")
	label := filepath.Join(g.Dir, id+".lbl")
	if exists(image) && exists(label) {
		return label, false, nil
	}
	if err := im.WriteFile(image); err != nil {
		return "", false, errors.Wrapf(err, "writing %s", image)
	}
	if err := cache.WriteFile(label, []byte(Label(filepath.Base(image), id, im.Scale))); err != nil {
		return "", false, errors.Wrapf(err, "writing %s", label)
	}
	return label, true, nil
}

// Label returns a PDS3 label for a generated image.
func Label(basename, productID string, pixelScale float64) string {
	lines := []string{
		"PDS_VERSION_ID                     = PDS3",
		fmt.Sprintf("^IMAGE                             = (\"%s\", 5)", basename),
		"PRODUCT_NAME                       = \"SBNSIS Test Image\"",
		fmt.Sprintf("PRODUCT_ID                         = \"%s\"", productID),
		fmt.Sprintf("DATA_SET_ID                        = \"%s\"", Collection),
		"INSTRUMENT_HOST_NAME               = \"test-facility\"",
		"INSTRUMENT_NAME                    = \"test-instrument\"",
		"TARGET_NAME                        = \"test-target\"",
		"OBJECT                             = IMAGE",
		fmt.Sprintf("  HORIZONTAL_PIXEL_FOV             = %.6f <DEGREE>", pixelScale),
		fmt.Sprintf("  VERTICAL_PIXEL_FOV               = %.6f <DEGREE>", pixelScale),
		"END_OBJECT                         = IMAGE",
		"END",
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
