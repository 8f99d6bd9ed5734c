package api

import (
	"testing"
)

func TestFormatLogLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "Stale fallback warning",
			input: `time=2024-06-01T12:00:00.000+00:00 level=WARN msg="Serving stale places after provider failure" component=places key=places:1.5533:110.3592:1000 kind=quota_exceeded record=3 as_of=2024-05-20T10:00:00Z`,
			want:  "12:00:00 Serving stale places after provider failure (as_of=2024-05-20T10:00:00Z, component=places, kind=quota_exceeded, record=3)",
		},
		{
			name:  "Quoted values are unwrapped",
			input: `time=2026-01-18T06:50:46.074+01:00 level=ERROR msg="Places provider rejected call" kind=invalid_credentials radius="1000 " error="api error: invalid apiKey provided"`,
			want:  "06:50:46 Places provider rejected call (kind=invalid_credentials, radius=1000)",
		},
		{
			name:  "Not a slog line",
			input: "plain text",
			want:  "plain text",
		},
		{
			name:  "Empty",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatLogLine(tt.input); got != tt.want {
				t.Errorf("formatLogLine() = %q, want %q", got, tt.want)
			}
		})
	}
}
