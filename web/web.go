// Package web holds the HTML templates served by the report handlers.
package web

import "embed"

// Templates contains index.html and report.html
//
//go:embed templates/*.html
var Templates embed.FS
