package export

import (
	"context"
	"fmt"
	"time"

	"journal/api/internal/journal"
)

// EntrySource loads every entry a user owns, newest first.
type EntrySource interface {
	GetEntries(ctx context.Context, userID string) ([]journal.Entry, error)
}

// PDFRenderer turns a rendered HTML page into PDF bytes.
type PDFRenderer func(ctx context.Context, html string) ([]byte, error)

type Service struct {
	entries EntrySource
	pdf     PDFRenderer
	now     func() time.Time
}

func NewService(entries EntrySource) *Service {
	return &Service{entries: entries, pdf: renderPDF, now: time.Now}
}

// WithPDFRenderer replaces the headless Chrome renderer.
func (s *Service) WithPDFRenderer(render PDFRenderer) *Service {
	s.pdf = render
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.UserID == "" {
		return nil, journal.ErrNotAuthenticated
	}
	switch req.Format {
	case FormatHTML, FormatMarkdown, FormatPDF:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	entries, err := s.entries.GetEntries(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	generatedAt := s.now().UTC()
	data := buildTemplateData(req.UserName, entries, generatedAt)
	base := sanitizeFilename(fmt.Sprintf("journal %s", generatedAt.Format("2006-01-02")))

	switch req.Format {
	case FormatMarkdown:
		return &Result{
			Data:     []byte(RenderMarkdown(data)),
			Filename: base + ".md",
			MimeType: "text/markdown; charset=utf-8",
		}, nil
	case FormatPDF:
		html, err := RenderJournalHTML(data)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		pdf, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{Data: pdf, Filename: base + ".pdf", MimeType: "application/pdf"}, nil
	default:
		html, err := RenderJournalHTML(data)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return &Result{Data: []byte(html), Filename: base + ".html", MimeType: "text/html; charset=utf-8"}, nil
	}
}
