// Package export renders documents to PDF (headless Chrome) and DOCX (pandoc).
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

func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case FormatPDF, FormatDOCX:
		return Format(raw), nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Request carries one document snapshot. ContentHTML is the editor's stored
// markup and is sanitized before rendering.
type Request struct {
	DocumentID  string
	UserID      string
	Title       string
	ContentHTML string
	Author      string
	UpdatedAt   time.Time
	Format      Format
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat     = errors.New("unsupported export format")
	ErrPDFDependencyMissing  = errors.New("export pdf dependency missing")
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
