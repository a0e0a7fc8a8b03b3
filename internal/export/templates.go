package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"journal/api/internal/journal"
)

//go:embed templates/*.html
var templateFS embed.FS

var journalTemplate = template.Must(
	template.New("journal.html").Funcs(template.FuncMap{
		"paragraphs": paragraphs,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}).ParseFS(templateFS, "templates/journal.html"),
)

// TemplateData holds data for journal template rendering
type TemplateData struct {
	Author      string
	GeneratedAt time.Time
	Entries     []TemplateEntry
}

type TemplateEntry struct {
	Title     string
	Content   string
	Tags      []string
	CreatedAt time.Time
}

func buildTemplateData(author string, entries []journal.Entry, generatedAt time.Time) TemplateData {
	data := TemplateData{
		Author:      author,
		GeneratedAt: generatedAt,
		Entries:     make([]TemplateEntry, 0, len(entries)),
	}
	for _, entry := range entries {
		tags := make([]string, 0, len(entry.Tags))
		for _, tag := range entry.Tags {
			tags = append(tags, tag.Name)
		}
		data.Entries = append(data.Entries, TemplateEntry{
			Title:     entry.Title,
			Content:   entry.Content,
			Tags:      tags,
			CreatedAt: entry.CreatedAt,
		})
	}
	return data
}

// RenderJournalHTML renders the journal template with provided data
func RenderJournalHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := journalTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderMarkdown writes one level-two section per entry.
func RenderMarkdown(data TemplateData) string {
	var b strings.Builder
	b.WriteString("# Journal")
	if data.Author != "" {
		fmt.Fprintf(&b, " of %s", data.Author)
	}
	fmt.Fprintf(&b, "\n\n_Exported %s_\n", data.GeneratedAt.Format("January 2, 2006"))

	if len(data.Entries) == 0 {
		b.WriteString("\nNo entries yet.\n")
		return b.String()
	}
	for _, entry := range data.Entries {
		fmt.Fprintf(&b, "\n## %s\n\n", entry.Title)
		fmt.Fprintf(&b, "_%s_", entry.CreatedAt.UTC().Format("Mon, Jan 2 2006 15:04 MST"))
		if len(entry.Tags) > 0 {
			b.WriteString(" · ")
			for i, tag := range entry.Tags {
				if i > 0 {
					b.WriteString(" ")
				}
				fmt.Fprintf(&b, "`#%s`", tag)
			}
		}
		b.WriteString("\n")
		if content := strings.TrimSpace(entry.Content); content != "" {
			b.WriteString("\n")
			b.WriteString(content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// paragraphs splits free text on blank lines.
func paragraphs(content string) []string {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	parts := strings.Split(normalized, "\n\n")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
