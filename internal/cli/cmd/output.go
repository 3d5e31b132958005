package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func wantsJSON() bool {
	return MustApp().OutputFormat == "json"
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func newTable(w io.Writer, headers ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	return tw
}

func statusColor(status string) *color.Color {
	switch strings.ToLower(status) {
	case "verified", "forwarded", "success", "active", "healthy":
		return color.New(color.FgGreen)
	case "pending", "received", "processing":
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return humanize.Time(*t)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
