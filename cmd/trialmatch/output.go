// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"

	"github.com/pdiddy/trialmatch/internal/pipeline"
	"github.com/pdiddy/trialmatch/internal/store"
)

// writeResult prints a run result. Markdown and HTML need a completed run;
// for anything else they fall back to YAML.
func writeResult(w io.Writer, res *pipeline.Result, format string) error {
	switch format {
	case "json", "yaml":
		return store.Write(w, res, format)
	case "markdown", "md", "html":
		if res.Report == nil {
			return store.Write(w, res, "yaml")
		}
		body := res.Report.Markdown
		if format == "html" {
			body = res.Report.HTML
		}
		_, err := io.WriteString(w, body)
		return err
	default:
		return fmt.Errorf("unsupported format %q (want json, yaml, markdown or html)", format)
	}
}
