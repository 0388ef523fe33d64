package timeparsing

import (
	"testing"
	"time"
)

func TestParseCompactDuration(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{input: "+6h", want: time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)},
		{input: "+1d", want: time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)},
		{input: "-2w", want: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		{input: "3m", want: time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC)},
		{input: "-1y", want: time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)},
		{input: "0d", want: now},
		{input: "6", wantErr: true},
		{input: "+6x", wantErr: true},
		{input: "six hours", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCompactDuration(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCompactDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseCompactDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsCompactDuration(t *testing.T) {
	for _, s := range []string{"1h", "+2d", "-10w", "3m", "1y"} {
		if !IsCompactDuration(s) {
			t.Errorf("IsCompactDuration(%q) = false", s)
		}
	}
	for _, s := range []string{"1", "d", "1.5h", "1 d", "tomorrow"} {
		if IsCompactDuration(s) {
			t.Errorf("IsCompactDuration(%q) = true", s)
		}
	}
}

func TestParseAbsolute(t *testing.T) {
	got, err := ParseAbsolute("2025-03-15T14:30:00Z", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2025, 3, 15, 14, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	got, err = ParseAbsolute("2025-02-01", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if got.Day() != 1 || got.Month() != time.February || got.Hour() != 0 {
		t.Errorf("got %v, want 2025-02-01 00:00", got)
	}

	if _, err := ParseAbsolute("02/01/2025", time.UTC); err == nil {
		t.Error("expected error for unsupported layout")
	}
}

func TestParseRelativeTimeLayers(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	got, err := ParseRelativeTime("+1d", now)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(now.AddDate(0, 0, 1)) {
		t.Errorf("+1d = %v", got)
	}

	got, err = ParseRelativeTime(" 2025-01-20 ", now)
	if err != nil {
		t.Fatal(err)
	}
	if got.Day() != 20 {
		t.Errorf("2025-01-20 = %v", got)
	}

	got, err = ParseRelativeTime("yesterday", now)
	if err != nil {
		t.Fatal(err)
	}
	if got.Day() != 14 {
		t.Errorf("yesterday = %v, want Jan 14", got)
	}

	if _, err := ParseRelativeTime("", now); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		input string
		want  time.Time
	}{
		{"7d", now.AddDate(0, 0, -7)},
		{"-7d", now.AddDate(0, 0, -7)},
		{"+1h", now.Add(time.Hour)},
		{"2025-01-01", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSince(tt.input, now)
			if err != nil {
				t.Fatalf("ParseSince(%q) error = %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseSince(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
