package types

import (
	"errors"
	"testing"
)

func TestParseSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "plain bytes", input: "1024", want: 1024},
		{name: "zero", input: "0", want: 0},
		{name: "decimal gigabytes", input: "8GB", want: 8_000_000_000},
		{name: "iec gibibytes", input: "2GiB", want: 2 * 1024 * 1024 * 1024},
		{name: "megabytes with space", input: "500 MB", want: 500_000_000},
		{name: "fractional", input: "1.5GB", want: 1_500_000_000},
		{name: "surrounding whitespace", input: "  3kB ", want: 3000},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace only", input: "   ", wantErr: true},
		{name: "negative", input: "-1GB", wantErr: true},
		{name: "unknown unit", input: "10XB", wantErr: true},
		{name: "letters only", input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseSizeNegativeSentinel(t *testing.T) {
	t.Parallel()

	if _, err := ParseSize("-5"); !errors.Is(err, ErrNegativeSize) {
		t.Errorf("expected ErrNegativeSize, got %v", err)
	}
	if _, err := ParseSize("nope"); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("expected ErrInvalidSize, got %v", err)
	}
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{999, "999 B"},
		{8_000_000_000, "8.0 GB"},
		{1_500_000, "1.5 MB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.in); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCatalogItemAttr(t *testing.T) {
	t.Parallel()

	item := CatalogItem{
		ID:         "movies/heat.mkv",
		Name:       "Heat",
		Size:       42,
		Attributes: map[string]string{"Genre": "crime", "year": "1995", "empty": ""},
	}

	tests := []struct {
		key    string
		want   string
		wantOK bool
	}{
		{"year", "1995", true},
		{"genre", "crime", true},
		{"empty", "", false},
		{"missing", "", false},
		{"name", "Heat", true},
		{"size", "42", true},
	}
	for _, tt := range tests {
		got, ok := item.Attr(tt.key)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Attr(%q) = (%q, %v), want (%q, %v)", tt.key, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSyncResultAddError(t *testing.T) {
	t.Parallel()

	var r SyncResult
	r.AddError("a", "network", errors.New("boom"))
	if r.Failed != 1 || len(r.Errors) != 1 {
		t.Fatalf("unexpected result: %+v", r)
	}
	if r.Errors[0].Message != "boom" || r.Errors[0].Category != "network" {
		t.Errorf("unexpected error entry: %+v", r.Errors[0])
	}
}
