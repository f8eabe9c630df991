package filter

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"1d", Day, false},
		{"2w", 2 * Week, false},
		{"1mo", Month, false},
		{"1y", Year, false},
		{"90m", 90 * time.Minute, false},
		{"1h30m", 90 * time.Minute, false},
		{"", 0, true},
		{"-1d", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDuration(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseRule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    Rule
		wantErr bool
	}{
		{"rating>=7", Rule{Attribute: "rating", Operator: OpGte, Value: "7"}, false},
		{"genre = drama", Rule{Attribute: "genre", Operator: OpEq, Value: "drama"}, false},
		{"year<2000", Rule{Attribute: "year", Operator: OpLt, Value: "2000"}, false},
		{"lang != fr", Rule{Attribute: "lang", Operator: OpNe, Value: "fr"}, false},
		{"language exists", Rule{Attribute: "language", Operator: OpExists}, false},
		{"genre in drama,comedy", Rule{Attribute: "genre", Operator: OpIn, Value: "drama,comedy"}, false},
		{"title glob *star*", Rule{Attribute: "title", Operator: OpGlob, Value: "*star*"}, false},
		{"", Rule{}, true},
		{"rating between 1", Rule{}, true},
		{"lonely", Rule{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseRule(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRule(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got.Attribute != tt.want.Attribute {
				t.Errorf("attribute = %q, want %q", got.Attribute, tt.want.Attribute)
			}
			if !tt.wantErr && (got.Operator != tt.want.Operator || got.Value != tt.want.Value) {
				t.Errorf("ParseRule(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}
