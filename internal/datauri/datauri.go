// Package datauri decodes RFC 2397 data URIs into bytes and a media type.
package datauri

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"
)

// ErrInvalid is wrapped by every decoding error.
var ErrInvalid = errors.New("invalid data URI")

// defaultMediaType applies when the URI names none.
const defaultMediaType = "text/plain"

// Decode parses "data:[<mediatype>][;base64],<data>". The returned media
// type carries no parameters.
func Decode(uri string) ([]byte, string, error) {
	uri = strings.TrimSpace(uri)
	if !strings.HasPrefix(strings.ToLower(uri), "data:") {
		return nil, "", fmt.Errorf("%w: missing data: scheme", ErrInvalid)
	}

	header, payload, ok := strings.Cut(uri[len("data:"):], ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: missing comma", ErrInvalid)
	}

	isBase64 := false
	if strings.HasSuffix(strings.ToLower(header), ";base64") {
		isBase64 = true
		header = header[:len(header)-len(";base64")]
	}

	mediaType := defaultMediaType
	if header != "" {
		mt, _, err := mime.ParseMediaType(header)
		if err != nil {
			return nil, "", fmt.Errorf("%w: media type %q: %v", ErrInvalid, header, err)
		}
		mediaType = mt
	}

	if isBase64 {
		data, err := decodeBase64(payload)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return data, mediaType, nil
	}

	text, err := url.PathUnescape(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return []byte(text), mediaType, nil
}

// decodeBase64 accepts padded and unpadded standard base64, ignoring
// whitespace that browsers sometimes insert.
func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// Encode builds a base64 data URI.
func Encode(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
