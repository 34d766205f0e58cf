package extraction

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"1990-02-04", "1990-02-04", false},
		{"04/02/1990", "1990-02-04", false},
		{"02-04-1990", "1990-02-04", false},
		{"February 4, 1990", "1990-02-04", false},
		{"Feb 4th 1990", "1990-02-04", false},
		{"4 February 1990", "1990-02-04", false},
		{"4th of Feb, 1990", "1990-02-04", false},
		{"31/02/1990", "", true},
		{"13-01-1990", "", true},
		{"Smarch 4, 1990", "", true},
		{"banana", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in, time.UTC)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got.Format(DateLayout))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Format(DateLayout) != tt.want {
				t.Fatalf("got %s want %s", got.Format(DateLayout), tt.want)
			}
		})
	}
}

func TestResolveRelativeDate(t *testing.T) {
	now := time.Date(2026, time.March, 2, 18, 30, 0, 0, time.UTC) // Monday
	tests := map[string]string{
		"today":        "2026-03-02",
		"tomorrow":     "2026-03-03",
		"Wednesday":    "2026-03-04",
		"next friday":  "2026-03-06",
		"this  sunday": "2026-03-08",
		"monday":       "2026-03-09",
	}
	for in, want := range tests {
		got, ok := ResolveRelativeDate(in, now)
		if !ok {
			t.Fatalf("%q: expected to resolve", in)
		}
		if got.Format(DateLayout) != want {
			t.Fatalf("%q: got %s want %s", in, got.Format(DateLayout), want)
		}
	}
	if _, ok := ResolveRelativeDate("someday", now); ok {
		t.Fatal("expected someday not to resolve")
	}
}

func TestFormatDate(t *testing.T) {
	if got := FormatDate("2026-03-03"); got != "Tuesday, March 3" {
		t.Fatalf("unexpected format %q", got)
	}
	if got := FormatDate("garbage"); got != "garbage" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}
