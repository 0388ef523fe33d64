package validation

import (
	"testing"

	"github.com/steveyegge/prdledger/internal/types"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		input    string
		expected types.Priority
		wantErr  bool
	}{
		{"high", types.PriorityHigh, false},
		{"HIGH", types.PriorityHigh, false},
		{" medium ", types.PriorityMedium, false},
		{"low", types.PriorityLow, false},

		// P-prefix shorthand
		{"P0", types.PriorityHigh, false},
		{"p1", types.PriorityHigh, false},
		{"P2", types.PriorityMedium, false},
		{"P3", types.PriorityLow, false},
		{"P4", types.PriorityLow, false},

		{"P5", "", true},
		{"urgent", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePriority(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePriority(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("ParsePriority(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		input    string
		expected types.Status
		wantErr  bool
	}{
		{"pending", types.StatusPending, false},
		{"in-progress", types.StatusInProgress, false},
		{"in_progress", types.StatusInProgress, false},
		{"In Progress", types.StatusInProgress, false},
		{"done", types.StatusDone, false},
		{"archived", types.StatusArchived, false},
		{"closed", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseStatus(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStatus(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("ParseStatus(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseComplexity(t *testing.T) {
	if c, err := ParseComplexity(""); err != nil || c != "" {
		t.Errorf("ParseComplexity(\"\") = %q, %v", c, err)
	}
	if c, err := ParseComplexity("High"); err != nil || c != types.ComplexityHigh {
		t.Errorf("ParseComplexity(High) = %q, %v", c, err)
	}
	if _, err := ParseComplexity("extreme"); err == nil {
		t.Error("expected error for extreme")
	}
}

func TestValidateIDFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"prd_001", "prd_001", false},
		{"prd_1234", "prd_1234", false},
		{"7", "prd_007", false},
		{"42", "prd_042", false},
		{"prd_1", "", true},
		{"PRD-001", "", true},
		{"", "", true},
		{"abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ValidateIDFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateIDFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ValidateIDFormat(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
