package pipeline

import (
	"context"
	"mime"
	"strings"
)

// MIME types the dispatcher routes.
const (
	MIMETypePDF  = "application/pdf"
	MIMETypeCSV  = "text/csv"
	MIMETypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MIMETypeXLS  = "application/vnd.ms-excel"
)

// TextExtractor turns a raw document into text. Diagnostics describe
// failures that were recovered from; the error is either an unsupported
// format or the caller's context error.
type TextExtractor interface {
	ExtractText(ctx context.Context, doc RawDocument) (ExtractedText, []Diagnostic, error)
}

// Dispatcher routes a document to an extractor by its declared MIME type.
type Dispatcher struct {
	pdf *PDFExtractor
}

// NewDispatcher creates a Dispatcher that reads PDFs with pdf.
func NewDispatcher(pdf *PDFExtractor) *Dispatcher {
	if pdf == nil {
		pdf = NewPDFExtractor(nil, 0)
	}
	return &Dispatcher{pdf: pdf}
}

// ExtractText implements TextExtractor.
func (d *Dispatcher) ExtractText(ctx context.Context, doc RawDocument) (ExtractedText, []Diagnostic, error) {
	mimeType := NormalizeMIMEType(doc.MIMEType)

	switch {
	case mimeType == MIMETypePDF:
		return d.pdf.Extract(ctx, doc.Bytes)
	case mimeType == MIMETypeCSV:
		text, err := DecodeCSV(doc.Bytes)
		return text, nil, err
	case strings.HasPrefix(mimeType, "image/"):
		return ImageGuidance(), nil, nil
	case mimeType == MIMETypeXLSX, mimeType == MIMETypeXLS:
		text, diags := ExtractSpreadsheet(ctx, doc.Bytes, mimeType)
		return text, diags, nil
	default:
		return ExtractedText{}, nil, &UnsupportedFormatError{MIMEType: doc.MIMEType}
	}
}

// NormalizeMIMEType lowercases a media type and drops its parameters, so
// "Text/CSV; charset=utf-8" becomes "text/csv".
func NormalizeMIMEType(mimeType string) string {
	if mediaType, _, err := mime.ParseMediaType(mimeType); err == nil {
		return mediaType
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// MIMETypeFromFileName infers a MIME type from a file extension. It returns
// an empty string for unknown extensions.
func MIMETypeFromFileName(name string) string {
	lower := strings.ToLower(name)
	i := strings.LastIndex(lower, ".")
	if i < 0 {
		return ""
	}
	switch lower[i:] {
	case ".pdf":
		return MIMETypePDF
	case ".csv":
		return MIMETypeCSV
	case ".xlsx":
		return MIMETypeXLSX
	case ".xls":
		return MIMETypeXLS
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".tif", ".tiff":
		return "image/tiff"
	}
	return ""
}

// IsSupportedMIMEType reports whether the dispatcher routes mimeType to an extractor.
func IsSupportedMIMEType(mimeType string) bool {
	switch mt := NormalizeMIMEType(mimeType); {
	case mt == MIMETypePDF, mt == MIMETypeCSV, mt == MIMETypeXLSX, mt == MIMETypeXLS:
		return true
	default:
		return strings.HasPrefix(mt, "image/")
	}
}
