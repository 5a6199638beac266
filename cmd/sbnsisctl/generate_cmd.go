package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"github.com/small-bodies-node/sbnsis/pkg/catalog"
	"github.com/small-bodies-node/sbnsis/pkg/catalog/pds3"
	"github.com/small-bodies-node/sbnsis/pkg/synthetic"
)

type generateOpts struct {
	*rootOpts
	positions int
	size      int
	catalog   string
	verbose   bool
}

func newGenerate(parent *rootOpts) *generateOpts {
	return &generateOpts{rootOpts: parent}
}

func (opts *generateOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate-test-data DIR",
		Short: "Write a synthetic data set of images and labels, and catalog it",
		Long: `Write pairs of synthetic images spread over the sky, with PDS3
labels, and add them to a catalog. The pixel values of one image of
each pair are its right ascension, and of the other its declination,
so the coordinates of any cutout can be checked by looking at it.
Files already present are kept.`,
		Example: makeExample("sbnsisctl generate-test-data ./data --positions 100 --catalog catalog.yaml"),
		RunE:    opts.RunE,
	}
	cmd.Flags().IntVar(&opts.positions, "positions", synthetic.DefaultPositions, "approximate number of places on the sky to put images")
	cmd.Flags().IntVar(&opts.size, "size", synthetic.DefaultSize, "width and height of each image, in pixels")
	cmd.Flags().StringVar(&opts.catalog, "catalog", "catalog.yaml", "catalog to add the images to; empty to skip")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log progress")
	return cmd
}

func (opts *generateOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return newUsageError("expected exactly one argument, the output directory")
	}
	dir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	logger := newLogger(cmd, opts.verbose)

	gen := &synthetic.Generator{
		Dir:       dir,
		Positions: opts.positions,
		Size:      opts.size,
		Logger:    logger,
	}
	bar := pb.New(gen.Total())
	bar.SetWriter(cmd.OutOrStderr())
	bar.SetTemplateString(`Writing images {{counters . }} {{bar . }} {{percent . }} {{etime . "%s"}}`)
	gen.Progress = func() { bar.Increment() }
	bar.Start()
	labels, err := gen.Run(context.Background())
	bar.Finish()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d images in %s, pixel scale %g deg\n", len(labels), dir, gen.PixelScale())

	if opts.catalog == "" {
		return nil
	}
	cat, err := catalog.Open(opts.catalog)
	if err != nil {
		return err
	}
	if c, ok := cat.(io.Closer); ok {
		defer c.Close()
	}
	ingester := &pds3.Ingester{Catalog: cat, Logger: logger}
	added := 0
	for _, label := range labels {
		ok, err := ingester.AddLabel(context.Background(), label)
		if err != nil {
			return err
		}
		if ok {
			added++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added %d images to %s\n", added, opts.catalog)
	return nil
}
