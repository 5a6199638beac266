package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/small-bodies-node/sbnsis/pkg/service"
)

type queryOpts struct {
	*rootOpts
	query        service.QueryRequest
	outputFormat string
}

func newQuery(parent *rootOpts) *queryOpts {
	return &queryOpts{rootOpts: parent}
}

func (opts *queryOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Search the images being served",
		Example: makeExample(
			"sbnsisctl query --instrument cam",
			"sbnsisctl query --collection test-collection --maxrec 10 --offset 20 -o json",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVar(&opts.query.Collection, "collection", "", "only images in this collection")
	cmd.Flags().StringVar(&opts.query.Facility, "facility", "", "only images from this facility")
	cmd.Flags().StringVar(&opts.query.Instrument, "instrument", "", "only images from this instrument")
	cmd.Flags().StringVar(&opts.query.DataProductType, "dptype", "", "only images of this data product type")
	cmd.Flags().StringVar(&opts.query.Format, "format", "", "format used in access URLs: fits, jpeg or png")
	cmd.Flags().IntVar(&opts.query.MaxRec, "maxrec", 0, fmt.Sprintf("maximum number of results; the service default is %d", service.DefaultMaxRec))
	cmd.Flags().IntVar(&opts.query.Offset, "offset", 0, "number of results to skip")
	cmd.Flags().StringVarP(&opts.outputFormat, "output-format", "o", outputFormatTab, "output format: tab or json")
	return cmd
}

func (opts *queryOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if !outputFormatIsValid(opts.outputFormat) {
		return errorInvalidOutputFormat
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()
	res, err := opts.API.Query(ctx, opts.query)
	if err != nil {
		return err
	}

	if opts.outputFormat == outputFormatJson {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	out := newTabwriter(cmd.OutOrStdout())
	fmt.Fprintln(out, "OBS ID\tINSTRUMENT\tTARGET\tPIXEL SCALE\tURL")
	for _, m := range res.Matches {
		scale := ""
		if m.PixelScale != nil {
			scale = strconv.FormatFloat(*m.PixelScale, 'g', 6, 64)
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n", m.ObsID, m.Instrument, m.Target, scale, m.AccessURL)
	}
	out.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d, from offset %d\n", len(res.Matches), res.Count, res.Offset)
	return nil
}

type summaryOpts struct {
	*rootOpts
	outputFormat string
}

func newSummary(parent *rootOpts) *summaryOpts {
	return &summaryOpts{rootOpts: parent}
}

func (opts *summaryOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Count the images being served, by collection, facility and instrument",
		RunE:  opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.outputFormat, "output-format", "o", outputFormatTab, "output format: tab or json")
	return cmd
}

func (opts *summaryOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if !outputFormatIsValid(opts.outputFormat) {
		return errorInvalidOutputFormat
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()
	summary, err := opts.API.Summary(ctx)
	if err != nil {
		return err
	}

	if opts.outputFormat == outputFormatJson {
		return writeJSON(cmd.OutOrStdout(), summary)
	}
	out := newTabwriter(cmd.OutOrStdout())
	fmt.Fprintln(out, "COLLECTION\tFACILITY\tINSTRUMENT\tIMAGES")
	for _, s := range summary {
		fmt.Fprintf(out, "%s\t%s\t%s\t%d\n", s.Collection, s.Facility, s.Instrument, s.Count)
	}
	return out.Flush()
}
