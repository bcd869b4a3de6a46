// Package export renders the active view of a draw for operators: the
// results listing and the review sign-in sheet.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"expertdraw/internal/domain"
	"expertdraw/internal/ledger"
)

const (
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatText     = "text"
)

// ParseFormat normalizes a user supplied format. Empty means csv.
func ParseFormat(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	case "text", "txt", "table":
		return FormatText, nil
	}
	return "", fmt.Errorf("%w: unsupported export format %q", domain.ErrValidation, s)
}

// ContentType is the media type served for format.
func ContentType(format string) string {
	switch format {
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatText:
		return "text/plain; charset=utf-8"
	}
	return "text/csv; charset=utf-8"
}

// Results writes primaries then backups of the active view.
func Results(w io.Writer, d domain.DrawApplication, rows []domain.DrawResult, format string) error {
	primaries, backups := ledger.Partition(rows)
	tw := newWriter(w, fmt.Sprintf("Draw %s results", title(d)))
	tw.AppendHeader(table.Row{"Role", "Ordinal", "Expert ID", "Name", "Organization", "Title", "Phone", "Replacement", "Contact"})
	for _, group := range [][]domain.DrawResult{primaries, backups} {
		for _, r := range group {
			ex := expert(r)
			role := "primary"
			if r.IsBackup {
				role = "backup"
			}
			replacement := ""
			if r.IsReplacement {
				replacement = "yes"
			}
			tw.AppendRow(table.Row{role, r.Ordinal, r.ExpertID, ex.Name, ex.Organization, ex.Title, ex.Phone, replacement, r.ContactStatus})
		}
	}
	return render(tw, format)
}

// SignInSheet writes the experts currently filling primary slots with an
// empty signature column.
func SignInSheet(w io.Writer, d domain.DrawApplication, rows []domain.DrawResult, format string) error {
	primaries, _ := ledger.Partition(rows)
	heading := fmt.Sprintf("Sign-in sheet: %s", title(d))
	if d.ReviewTime != nil {
		heading += " at " + *d.ReviewTime
	}
	if d.ReviewLocation != "" {
		heading += ", " + d.ReviewLocation
	}
	tw := newWriter(w, heading)
	tw.AppendHeader(table.Row{"No.", "Name", "Organization", "Title", "Phone", "Signature"})
	for _, r := range primaries {
		ex := expert(r)
		tw.AppendRow(table.Row{r.Ordinal, ex.Name, ex.Organization, ex.Title, ex.Phone, ""})
	}
	return render(tw, format)
}

func newWriter(w io.Writer, heading string) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(heading)
	return tw
}

func render(tw table.Writer, format string) error {
	switch format {
	case FormatCSV, "":
		tw.SetTitle("")
		tw.RenderCSV()
	case FormatMarkdown:
		tw.SetTitle("")
		tw.RenderMarkdown()
	case FormatHTML:
		tw.RenderHTML()
	case FormatText:
		tw.Render()
	default:
		return fmt.Errorf("%w: unsupported export format %q", domain.ErrValidation, format)
	}
	return nil
}

func title(d domain.DrawApplication) string {
	switch {
	case d.ProjectName != "":
		return d.ProjectName
	case d.ProjectCode != "":
		return d.ProjectCode
	}
	return d.ID
}

func expert(r domain.DrawResult) domain.Expert {
	if r.Expert != nil {
		return *r.Expert
	}
	return domain.Expert{ID: r.ExpertID}
}
