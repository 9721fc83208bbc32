package vault

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hpungsan/stash/internal/artifact"
	"github.com/hpungsan/stash/internal/errors"
)

var reportMarkdown = goldmark.New(goldmark.WithExtensions(extension.Table))

// Report writes a markdown summary of the vault: usage counts, then a table
// of active artifacts and one of trashed artifacts. When html is set the
// markdown is rendered to an HTML fragment instead.
func (v *Vault) Report(w io.Writer, html bool) error {
	items, err := v.load()
	if err != nil {
		return err
	}
	usage, err := v.Usage()
	if err != nil {
		return err
	}

	var md bytes.Buffer
	fmt.Fprintf(&md, "# Vault report\n\n")
	fmt.Fprintf(&md, "Generated %s\n\n", formatTime(v.now()))
	fmt.Fprintf(&md, "| Active | Trashed | Capacity | Warning at |\n|---:|---:|---:|---:|\n")
	fmt.Fprintf(&md, "| %d | %d | %s | %s |\n\n", usage.Active, usage.Trashed,
		limit(usage.Capacity), limit(usage.WarningThreshold))
	if usage.Full {
		md.WriteString("> The vault is full. Remove an artifact before saving another.\n\n")
	} else if usage.NearCapacity {
		md.WriteString("> The vault is nearly full.\n\n")
	}

	writeSection(&md, "Active", items, artifact.StateActive)
	writeSection(&md, "Trash", items, artifact.StateTrashed)

	if !html {
		_, err := w.Write(md.Bytes())
		if err != nil {
			return errors.NewInternal(err)
		}
		return nil
	}
	if err := reportMarkdown.Convert(md.Bytes(), w); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func writeSection(md *bytes.Buffer, heading string, items []artifact.Artifact, state artifact.State) {
	fmt.Fprintf(md, "## %s\n\n", heading)

	n := 0
	for _, a := range items {
		if a.State != state {
			continue
		}
		if n == 0 {
			md.WriteString("| Title | Kind | Primary | Secondary | Saved |\n|---|---|---|---|---|\n")
		}
		title := cell(a.Title)
		if a.ExternalURL != nil && *a.ExternalURL != "" {
			title = fmt.Sprintf("[%s](%s)", title, *a.ExternalURL)
		}
		fmt.Fprintf(md, "| %s | %s | %s | %s | %s |\n",
			title, a.Kind, cell(a.MetricPrimary), cell(a.MetricSecondary), formatTime(a.UpdatedAt))
		n++
	}
	if n == 0 {
		md.WriteString("_Nothing here._\n")
	}
	md.WriteString("\n")
}

// cell makes s safe to place inside a markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func limit(n int) string {
	if n <= 0 {
		return "none"
	}
	return fmt.Sprintf("%d", n)
}

// formatTime formats t as "2006-01-02 15:04" UTC.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}
