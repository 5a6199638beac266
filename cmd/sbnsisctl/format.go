package main

import (
	"encoding/json"
	"io"
	"text/tabwriter"
)

const (
	outputFormatJson = "json"
	outputFormatTab  = "tab"
)

func newTabwriter(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
}

func outputFormatIsValid(format string) bool {
	return format == outputFormatTab || format == outputFormatJson
}

func writeJSON(out io.Writer, v interface{}) error {
	e := json.NewEncoder(out)
	e.SetIndent("", "  ")
	return e.Encode(v)
}
