package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	transport "github.com/small-bodies-node/sbnsis/pkg/http"
	"github.com/small-bodies-node/sbnsis/pkg/http/client"
)

const (
	EnvVariableURL = "SBNSIS_URL"
	defaultURL     = "http://localhost:5000"
)

type rootOpts struct {
	URL     string
	Timeout time.Duration
	API     *client.Client
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
sbnsisctl talks to the survey image service, and prepares data for it.

Workflow:
  sbnsisctl generate-test-data ./data --catalog catalog.yaml          # Make a synthetic data set.
  sbnsisctl add ./archive --recursive --catalog postgres://...         # Add PDS3-labelled images to a catalog.
  sbnsisctl summary                                                     # What is being served?
  sbnsisctl query --instrument cam --maxrec 10                          # Find images.
  sbnsisctl image OBS_ID --ra 10.5 --dec -3 --size 5arcmin --format png # Get a cutout.
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "sbnsisctl",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	cmd.PersistentFlags().StringVarP(&opts.URL, "url", "u", defaultURL,
		fmt.Sprintf("base URL of the image service API, including any base path; you can also set the environment variable %s", EnvVariableURL))
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 5*time.Minute, "global command timeout")

	cmd.AddCommand(
		newVersionCommand(),
		newImage(opts).Command(),
		newLabel(opts).Command(),
		newQuery(opts).Command(),
		newSummary(opts).Command(),
		newAdd(opts).Command(),
		newGenerate(opts).Command(),
	)

	// bad flags are usage errors, so main prints the usage too
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return usageError{error: err}
	})
	return cmd
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	url := os.Getenv(EnvVariableURL)
	if cmd.Flags().Changed("url") || url == "" {
		url = opts.URL
	}
	if opts.API == nil {
		opts.API = client.New(&http.Client{Timeout: opts.Timeout}, transport.NewAPIRouter(), url)
	}
	return nil
}
