package pipeline

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DecodeCSV turns CSV bytes into text without parsing the rows. UTF-8 input
// (with or without a BOM) and UTF-16 input with a BOM are accepted; anything
// else is an unsupported format.
func DecodeCSV(data []byte) (ExtractedText, error) {
	if !hasUTF16BOM(data) && !utf8.Valid(data) {
		return ExtractedText{}, &UnsupportedFormatError{MIMEType: MIMETypeCSV, Reason: "bytes are not valid UTF-8"}
	}

	decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err != nil {
		return ExtractedText{}, &UnsupportedFormatError{MIMEType: MIMETypeCSV, Reason: fmt.Sprintf("decode: %v", err)}
	}

	return ExtractedText{Text: string(decoded), PageCount: 1}, nil
}

func hasUTF16BOM(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0xFE, 0xFF}) || bytes.HasPrefix(data, []byte{0xFF, 0xFE})
}
