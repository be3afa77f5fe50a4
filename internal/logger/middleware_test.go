package logger

import (
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"short ascii kept", "hello", 10, "hello"},
		{"exact length kept", "hello", 5, "hello"},
		{"long ascii cut", "hello world", 8, "hello..."},
		{"tiny budget", "hello world", 3, "..."},
		{"short cyrillic kept", "привет", 10, "привет"},
		{"long cyrillic cut", "привет, как твои дела", 10, "привет,..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := truncate(tt.input, tt.maxLen)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate(%q, %d) produced invalid UTF-8: %q", tt.input, tt.maxLen, got)
			}
			if utf8.RuneCountInString(got) > tt.maxLen && tt.maxLen > 3 {
				t.Errorf("truncate(%q, %d) is %d runes long", tt.input, tt.maxLen, utf8.RuneCountInString(got))
			}
		})
	}
}
