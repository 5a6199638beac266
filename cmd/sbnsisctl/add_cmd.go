package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cheggaaa/pb/v3"
	"github.com/go-kit/kit/log"
	"github.com/spf13/cobra"

	"github.com/small-bodies-node/sbnsis/pkg/catalog"
	"github.com/small-bodies-node/sbnsis/pkg/catalog/pds3"
	_ "github.com/small-bodies-node/sbnsis/pkg/catalog/sql"
)

type addOpts struct {
	*rootOpts
	catalog      string
	baseURL      string
	stripLeading string
	facility     string
	recursive    bool
	extensions   []string
	verbose      bool
}

func newAdd(parent *rootOpts) *addOpts {
	return &addOpts{rootOpts: parent}
}

func (opts *addOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add PATH...",
		Short: "Add PDS3-labelled images to a catalog",
		Long: `Add reads PDS3 labels, and adds the images they describe to the
catalog the service reads. Each PATH is a label file or a directory
of them. Labels that cannot be read, or that point at an image that
does not exist, are skipped.`,
		Example: makeExample(
			"sbnsisctl add ./data --recursive --catalog catalog.yaml",
			"sbnsisctl add /archive --recursive --catalog postgres://sis@db/sis --strip-leading /archive --base-url https://archive.example.org",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVar(&opts.catalog, "catalog", "catalog.yaml", "catalog to add to: a YAML file, or a database URL")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "URL prepended to label and image paths; default file://")
	cmd.Flags().StringVar(&opts.stripLeading, "strip-leading", "", "prefix removed from label and image paths before --base-url is prepended")
	cmd.Flags().StringVar(&opts.facility, "facility", "", "facility name, overriding INSTRUMENT_HOST_NAME")
	cmd.Flags().BoolVarP(&opts.recursive, "recursive", "r", false, "descend into subdirectories")
	cmd.Flags().StringSliceVar(&opts.extensions, "extension", pds3.DefaultExtensions, "file extensions of labels")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every label")
	return cmd
}

// RunE works on the catalog directly, not through the service.
func (opts *addOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return newUsageError("expected at least one label file or directory")
	}

	cat, err := catalog.Open(opts.catalog)
	if err != nil {
		return err
	}
	if c, ok := cat.(io.Closer); ok {
		defer c.Close()
	}

	bar := pb.New(0)
	bar.SetWriter(cmd.OutOrStderr())
	bar.SetTemplateString(`Reading labels {{counters . }} {{etime . "%s"}}`)
	bar.Start()

	ingester := &pds3.Ingester{
		Catalog:      cat,
		BaseURL:      opts.baseURL,
		StripLeading: opts.stripLeading,
		Facility:     opts.facility,
		Logger:       newLogger(cmd, opts.verbose),
		Progress:     func(string, bool) { bar.Increment() },
	}

	ctx := context.Background()
	var found, added int
	for _, arg := range args {
		path, err := filepath.Abs(arg)
		if err != nil {
			return err
		}
		fi, err := os.Stat(path)
		if err != nil {
			return err
		}
		if fi.IsDir() {
			f, a, err := ingester.AddDirectory(ctx, path, opts.recursive, opts.extensions)
			found, added = found+f, added+a
			if err != nil {
				bar.Finish()
				return err
			}
			continue
		}
		ok, err := ingester.AddLabel(ctx, path)
		if err != nil {
			bar.Finish()
			return err
		}
		found++
		if ok {
			added++
		}
		bar.Increment()
	}
	bar.Finish()
	fmt.Fprintf(cmd.OutOrStdout(), "added %d of %d labels to %s\n", added, found, opts.catalog)
	return nil
}

// newLogger logs to stderr when verbose, and nowhere otherwise.
func newLogger(cmd *cobra.Command, verbose bool) log.Logger {
	if !verbose {
		return log.NewNopLogger()
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(cmd.OutOrStderr()))
	return log.With(logger, "ts", log.DefaultTimestampUTC)
}
