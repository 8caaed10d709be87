package pipeline

import "testing"

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"only whitespace", " \t\n\r\n ", ""},
		{"trims", "  hello  ", "hello"},
		{"collapses spaces", "a  \t  b", "a b"},
		{"keeps line breaks", "line one\n\n\n  line two", "line one\nline two"},
		{"crlf", "a\r\nb", "a\nb"},
		{"form feed is a break", "page one\fpage two", "page one\npage two"},
		{"non-breaking space", "Rp\u00a05.000", "Rp 5.000"},
		{"unicode line separator", "a\u2028b", "a\nb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeText(tt.in)
			if got != tt.want {
				t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := NormalizeText(got); again != got {
				t.Errorf("not idempotent: %q -> %q", got, again)
			}
		})
	}
}
