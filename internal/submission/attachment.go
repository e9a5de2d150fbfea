package submission

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Attachment is an optional binary blob selected by the user.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Size returns the attachment length in bytes.
func (a *Attachment) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

// IsPDF reports whether the attachment looks like a PDF document.
func (a *Attachment) IsPDF() bool {
	if a == nil {
		return false
	}
	if strings.EqualFold(a.ContentType, "application/pdf") {
		return true
	}
	if strings.EqualFold(filepath.Ext(a.Filename), ".pdf") {
		return true
	}
	return bytes.HasPrefix(a.Data, []byte("%PDF-"))
}

// Describe returns a short human-readable summary for list views.
// PDFs report their page count when the document can be parsed.
func (a *Attachment) Describe() string {
	if a == nil {
		return ""
	}
	if a.IsPDF() {
		if pages, err := pdfPageCount(a.Data); err == nil && pages > 0 {
			if pages == 1 {
				return fmt.Sprintf("%s (1 page)", a.Filename)
			}
			return fmt.Sprintf("%s (%d pages)", a.Filename, pages)
		}
	}
	return fmt.Sprintf("%s (%s)", a.Filename, humanSize(len(a.Data)))
}

func pdfPageCount(data []byte) (n int, err error) {
	// The PDF reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parsing pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}

func humanSize(n int) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}
