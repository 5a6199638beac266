package main

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/small-bodies-node/sbnsis/pkg/service"
)

type imageOpts struct {
	*rootOpts
	ra, dec float64
	size    string
	format  string
	align   bool
	output  string
}

func newImage(parent *rootOpts) *imageOpts {
	return &imageOpts{rootOpts: parent}
}

func (opts *imageOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image OBS_ID",
		Short: "Download an image, or a cutout of it",
		Example: makeExample(
			"sbnsisctl image test-000001-ra",
			"sbnsisctl image test-000001-ra --ra 10.5 --dec -3 --size 5arcmin",
			"sbnsisctl image test-000001-ra --ra 10.5 --dec -3 --size 0.1deg --format png --align -o cutouts/",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().Float64Var(&opts.ra, "ra", 0, "right ascension of the cutout center, degrees")
	cmd.Flags().Float64Var(&opts.dec, "dec", 0, "declination of the cutout center, degrees")
	cmd.Flags().StringVar(&opts.size, "size", "", "width and height of the cutout, an angle with units, e.g. 5arcmin")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "fits", "fits, jpeg or png")
	cmd.Flags().BoolVar(&opts.align, "align", false, "rotate a jpeg or png cutout to north up")
	cmd.Flags().StringVarP(&opts.output, "output", "o", ".", "file or directory to write to; - for stdout")
	return cmd
}

func (opts *imageOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errorWantedObsID
	}
	req := service.ImageRequest{
		ObsID:  args[0],
		Size:   opts.size,
		Format: opts.format,
		Align:  opts.align,
	}
	if cmd.Flags().Changed("ra") {
		req.RA = &opts.ra
	}
	if cmd.Flags().Changed("dec") {
		req.Dec = &opts.dec
	}
	if _, err := req.Validate(); err != nil {
		return newUsageError(err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()
	var buf bytes.Buffer
	name, err := opts.API.Image(ctx, req, &buf)
	if err != nil {
		return err
	}
	return save(cmd, opts.output, name, buf.Bytes())
}

type labelOpts struct {
	*rootOpts
	output string
}

func newLabel(parent *rootOpts) *labelOpts {
	return &labelOpts{rootOpts: parent}
}

func (opts *labelOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "label OBS_ID",
		Short:   "Download the PDS label of an image",
		Example: makeExample("sbnsisctl label test-000001-ra -o -"),
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", ".", "file or directory to write to; - for stdout")
	return cmd
}

func (opts *labelOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errorWantedObsID
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()
	var buf bytes.Buffer
	name, err := opts.API.Label(ctx, args[0], &buf)
	if err != nil {
		return err
	}
	return save(cmd, opts.output, name, buf.Bytes())
}

// save writes data to output: stdout for "-", the file named by the
// service inside output when it is a directory, or output itself.
func save(cmd *cobra.Command, output, name string, data []byte) error {
	if output == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	path := output
	if fi, err := os.Stat(output); err == nil && fi.IsDir() {
		if name == "" {
			return fmt.Errorf("the service did not name the file; give a file name with --output")
		}
		path = filepath.Join(output, filepath.Base(name))
	}
	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
