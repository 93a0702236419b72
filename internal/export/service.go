package export

import (
	"context"
	"fmt"
)

type renderFunc func(ctx context.Context, html, title string) (*Result, error)

// Service turns history entries into downloadable documents.
type Service struct {
	pdf  renderFunc
	docx renderFunc
}

func NewService() *Service {
	return &Service{pdf: exportPDF, docx: exportDOCX}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	html, err := RenderHistoryHTML(buildTemplateData(req))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	title := "history"
	if req.OwnerName != "" {
		title = req.OwnerName + " history"
	}

	switch req.Format {
	case FormatPDF:
		return s.pdf(ctx, html, title)
	case FormatDOCX:
		return s.docx(ctx, html, title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}
