package cutout

import (
	"context"
	"strconv"

	"github.com/jmgilman/go/exec"
	"github.com/pkg/errors"

	siserr "github.com/small-bodies-node/sbnsis/pkg/errors"
)

// Tool runs external programs for images that cannot be read by
// window, i.e. tile-compressed ones: fitscut for cutouts and funpack
// for whole-image decompression.
type Tool struct {
	cutter   exec.Executor
	unpacker exec.Executor
	// Timeout per invocation, as a duration string; empty means none.
	Timeout string
}

// NewTool returns a Tool calling the named programs. Either may be
// empty, which disables the corresponding operation. A nil executor
// means the programs are run directly.
func NewTool(executor exec.Executor, cutoutProgram, unpackProgram string) *Tool {
	if executor == nil {
		executor = exec.New(exec.WithInheritEnv())
	}
	t := &Tool{}
	if cutoutProgram != "" {
		t.cutter = exec.NewWrapper(executor.Clone(), cutoutProgram)
	}
	if unpackProgram != "" {
		t.unpacker = exec.NewWrapper(executor.Clone(), unpackProgram)
	}
	return t
}

func (t *Tool) CanCut() bool {
	return t != nil && t.cutter != nil
}

func (t *Tool) CanUnpack() bool {
	return t != nil && t.unpacker != nil
}

// Cut writes an n by n pixel cutout of src centred on (ra, dec) to
// dst, with the WCS updated.
func (t *Tool) Cut(ctx context.Context, src, dst string, ra, dec float64, n int) error {
	if !t.CanCut() {
		return siserr.Processing(errors.New("no cutout program configured"), "")
	}
	size := strconv.Itoa(n)
	return t.run(ctx, t.cutter,
		"-f", "--wcs",
		"-x", strconv.FormatFloat(ra, 'f', -1, 64),
		"-y", strconv.FormatFloat(dec, 'f', -1, 64),
		"-c", size, "-r", size,
		src, dst)
}

// Unpack decompresses the tile-compressed src into dst.
func (t *Tool) Unpack(ctx context.Context, src, dst string) error {
	if !t.CanUnpack() {
		return siserr.Processing(errors.New("no decompression program configured"), "")
	}
	return t.run(ctx, t.unpacker, "-O", dst, src)
}

func (t *Tool) run(ctx context.Context, e exec.Executor, args ...string) error {
	e = e.Clone().WithContext(ctx)
	if t.Timeout != "" {
		e = e.WithTimeout(t.Timeout)
	}
	res, err := e.Run(args...)
	if err == nil {
		return nil
	}
	var out string
	if execErr, ok := err.(*exec.ExecError); ok {
		out = execErr.Stdout
		if out == "" {
			out = execErr.Stderr
		}
	} else if res != nil {
		out = res.Stdout
	}
	return siserr.Processing(errors.Wrap(err, "running external image tool"), "external image tool failed: "+out)
}
