// Package export renders a member's exchange history as PDF or DOCX.
package export

import (
	"errors"
	"time"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts the ?format= query value. Empty defaults to PDF.
func ParseFormat(value string) (Format, bool) {
	switch Format(value) {
	case "", FormatPDF:
		return FormatPDF, true
	case FormatDOCX:
		return FormatDOCX, true
	default:
		return "", false
	}
}

// Entry is one exchange seen from the exporting member's side.
type Entry struct {
	Date        time.Time
	PlantName   string
	Kind        string // "post" or "request"
	Role        string // "giver" or "receiver"
	Counterpart string
	Location    string
	Notes       string
}

// Request contains parameters for an export operation
type Request struct {
	OwnerName string
	Format    Format
	Entries   []Entry
	// Now stamps the generated-at line; zero means time.Now.
	Now time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
	ErrUnsupportedFormat     = errors.New("unsupported export format")
)
