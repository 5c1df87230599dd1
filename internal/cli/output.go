package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"go.yaml.in/yaml/v3"
)

var outputFormat string

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}

func checkOutputFormat() error {
	switch outputFormat {
	case "", "table", "yaml":
		return nil
	}
	return fmt.Errorf("unsupported output format %q (expected table or yaml)", outputFormat)
}

// relative renders t as "in 3 hours" or "2 days ago", "-" when unset.
func relative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return humanize.Time(*t)
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func formatDuration(seconds *float64) string {
	if seconds == nil {
		return "-"
	}
	return (time.Duration(*seconds * float64(time.Second))).Round(time.Second).String()
}
