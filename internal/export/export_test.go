package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"journal/api/internal/journal"
)

type stubEntries struct {
	entries []journal.Entry
	err     error
	userID  string
}

func (s *stubEntries) GetEntries(_ context.Context, userID string) ([]journal.Entry, error) {
	s.userID = userID
	return s.entries, s.err
}

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func sampleEntries() []journal.Entry {
	return []journal.Entry{
		{
			ID:        "e2",
			UserID:    "u1",
			Title:     "Second <day>",
			Content:   "Walked the dog.\n\nThen wrote code.",
			CreatedAt: fixedNow.Add(-time.Hour),
			Tags:      []journal.Tag{{ID: "t1", Name: "home"}, {ID: "t2", Name: "work"}},
		},
		{
			ID:        "e1",
			UserID:    "u1",
			Title:     "First day",
			Content:   "Quiet.",
			CreatedAt: fixedNow.Add(-48 * time.Hour),
			Tags:      []journal.Tag{},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input string
		want  Format
	}{
		{"", FormatHTML},
		{"HTML", FormatHTML},
		{"md", FormatMarkdown},
		{" markdown ", FormatMarkdown},
		{"pdf", FormatPDF},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if err != nil {
			t.Fatalf("ParseFormat(%q) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
	if _, err := ParseFormat("docx"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("ParseFormat(docx) error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestExportHTML(t *testing.T) {
	source := &stubEntries{entries: sampleEntries()}
	svc := NewService(source).WithClock(func() time.Time { return fixedNow })

	result, err := svc.Export(context.Background(), Request{UserID: "u1", UserName: "Avery", Format: FormatHTML})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if source.userID != "u1" {
		t.Fatalf("entries loaded for %q", source.userID)
	}
	if result.Filename != "journal-2026-03-14.html" {
		t.Fatalf("filename = %q", result.Filename)
	}
	if !strings.HasPrefix(result.MimeType, "text/html") {
		t.Fatalf("mime type = %q", result.MimeType)
	}

	html := string(result.Data)
	for _, want := range []string{"Journal of Avery", "Second &lt;day&gt;", "<p>Walked the dog.</p>", "<p>Then wrote code.</p>", "#work", "First day"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Index(html, "Second") > strings.Index(html, "First day") {
		t.Error("entries should keep newest-first order")
	}
}

func TestExportMarkdown(t *testing.T) {
	svc := NewService(&stubEntries{entries: sampleEntries()}).WithClock(func() time.Time { return fixedNow })

	result, err := svc.Export(context.Background(), Request{UserID: "u1", Format: FormatMarkdown})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Filename != "journal-2026-03-14.md" {
		t.Fatalf("filename = %q", result.Filename)
	}
	md := string(result.Data)
	for _, want := range []string{"# Journal\n", "## Second <day>", "`#home` `#work`", "Walked the dog.\n\nThen wrote code.", "## First day"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestExportEmptyJournal(t *testing.T) {
	svc := NewService(&stubEntries{}).WithClock(func() time.Time { return fixedNow })
	result, err := svc.Export(context.Background(), Request{UserID: "u1", Format: FormatMarkdown})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if !strings.Contains(string(result.Data), "No entries yet.") {
		t.Fatalf("expected empty marker, got %q", result.Data)
	}
}

func TestExportPDFUsesRenderer(t *testing.T) {
	var rendered string
	svc := NewService(&stubEntries{entries: sampleEntries()}).
		WithClock(func() time.Time { return fixedNow }).
		WithPDFRenderer(func(_ context.Context, html string) ([]byte, error) {
			rendered = html
			return []byte("%PDF-1.7"), nil
		})

	result, err := svc.Export(context.Background(), Request{UserID: "u1", Format: FormatPDF})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.MimeType != "application/pdf" || string(result.Data) != "%PDF-1.7" {
		t.Fatalf("unexpected result %+v", result)
	}
	if !strings.Contains(rendered, "First day") {
		t.Fatal("renderer should receive the journal HTML")
	}
}

func TestExportPDFDependencyMissing(t *testing.T) {
	svc := NewService(&stubEntries{}).WithPDFRenderer(func(context.Context, string) ([]byte, error) {
		return nil, ErrPDFDependencyMissing
	})
	if _, err := svc.Export(context.Background(), Request{UserID: "u1", Format: FormatPDF}); !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("Export() error = %v, want ErrPDFDependencyMissing", err)
	}
}

func TestExportRejectsBadRequests(t *testing.T) {
	source := &stubEntries{}
	svc := NewService(source)

	if _, err := svc.Export(context.Background(), Request{Format: FormatHTML}); !errors.Is(err, journal.ErrNotAuthenticated) {
		t.Fatalf("Export() error = %v, want ErrNotAuthenticated", err)
	}
	if _, err := svc.Export(context.Background(), Request{UserID: "u1", Format: "docx"}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Export() error = %v, want ErrUnsupportedFormat", err)
	}
	if source.userID != "" {
		t.Fatal("entries should not load for rejected requests")
	}
}

func TestExportPropagatesStoreError(t *testing.T) {
	storeErr := errors.New("connection reset")
	svc := NewService(&stubEntries{err: storeErr})
	if _, err := svc.Export(context.Background(), Request{UserID: "u1", Format: FormatHTML}); !errors.Is(err, storeErr) {
		t.Fatalf("Export() error = %v, want wrapped store error", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"journal 2026-03-14", "journal-2026-03-14"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "journal"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := sanitizeFilename(tt.input); got != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"é", "%C3%A9"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			want := "data:text/html;charset=utf-8," + tt.expected
			if got := dataURL(tt.input); got != want {
				t.Errorf("dataURL(%q) = %q, want %q", tt.input, got, want)
			}
		})
	}
}

func TestParagraphs(t *testing.T) {
	got := paragraphs("one\r\n\r\n  \n\ntwo\nstill two")
	if len(got) != 2 || got[0] != "one" || got[1] != "two\nstill two" {
		t.Fatalf("paragraphs() = %q", got)
	}
}
