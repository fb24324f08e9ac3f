package extract

import (
	"errors"
	"testing"

	"github.com/flatwatch/flatwatch/models"
)

func TestForURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantSite models.Site
		wantErr  bool
	}{
		{
			name:     "rieltor listing",
			url:      "https://rieltor.ua/flats-rent/view/11717289/",
			wantSite: models.SiteRieltor,
		},
		{
			name:     "rieltor with www",
			url:      "https://www.rieltor.ua/flats-rent/view/1/",
			wantSite: models.SiteRieltor,
		},
		{
			name:     "dom.ria listing",
			url:      "https://dom.ria.com/uk/realty-arenda-kvartira-kiev-32371358.html",
			wantSite: models.SiteDomRia,
		},
		{
			name:     "plain http",
			url:      "http://rieltor.ua/flats-rent/view/2/",
			wantSite: models.SiteRieltor,
		},
		{
			name:    "suffix overlap is not a match",
			url:     "https://notrieltor.ua/flats/1",
			wantErr: true,
		},
		{
			name:    "unknown host",
			url:     "https://olx.ua/obyavlenie/1",
			wantErr: true,
		},
		{
			name:    "bad scheme",
			url:     "ftp://rieltor.ua/flats/1",
			wantErr: true,
		},
		{
			name:    "host lookalike in path",
			url:     "https://evil.example/rieltor.ua/1",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := ForURL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ForURL(%q) accepted, want rejection", tt.url)
				}
				if !errors.Is(err, ErrUnsupportedURL) {
					t.Fatalf("ForURL(%q) error %v is not ErrUnsupportedURL", tt.url, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ForURL(%q): %v", tt.url, err)
			}
			if ex.Site() != tt.wantSite {
				t.Fatalf("ForURL(%q) site = %s, want %s", tt.url, ex.Site(), tt.wantSite)
			}
		})
	}
}

func TestFirstIntKeepsZeroDistinctFromAbsent(t *testing.T) {
	if got := firstInt("0 кімнат"); got == nil || *got != 0 {
		t.Fatalf("firstInt(\"0 кімнат\") = %v, want explicit 0", got)
	}
	if got := firstInt("кімнати"); got != nil {
		t.Fatalf("firstInt without digits = %v, want nil", got)
	}
}

func TestParseArea(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"55 / 25 / 15 м²", 55},
		{"42.5 м²", 42.5},
		{"42,5 м²", 42.5},
	}
	for _, tt := range tests {
		got := parseArea(tt.text)
		if got == nil || *got != tt.want {
			t.Fatalf("parseArea(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
	if got := parseArea("площа невідома"); got != nil {
		t.Fatalf("parseArea without digits = %v, want nil", got)
	}
}

func TestParseFloor(t *testing.T) {
	if got := parseFloor("поверх 2 з 5"); got == nil || *got != 2 {
		t.Fatalf("parseFloor = %v, want 2", got)
	}
	if got := parseFloor("2 з 5"); got != nil {
		t.Fatalf("parseFloor without keyword = %v, want nil", got)
	}
}
