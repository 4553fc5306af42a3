package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string // "" means nil result
		wantErr bool
	}{
		// Empty
		{name: "empty string", input: "", want: ""},
		{name: "whitespace only", input: "   ", want: ""},

		// Plain numbers
		{name: "integer", input: "123", want: "123"},
		{name: "negative decimal", input: "-456.78", want: "-456.78"},
		{name: "leading dot", input: ".5", want: "0.5"},
		{name: "surrounding whitespace", input: "  999.99  ", want: "999.99"},

		// Separators
		{name: "thousands comma, decimal dot", input: "1,234.56", want: "1234.56"},
		{name: "thousands dot, decimal comma", input: "1.234,56", want: "1234.56"},
		{name: "decimal comma", input: "12,5", want: "12.5"},
		{name: "lone comma is decimal", input: "1,234", want: "1.234"},
		{name: "repeated commas are thousands", input: "1,234,567", want: "1234567"},
		{name: "repeated dots are thousands", input: "1.234.567", want: "1234567"},
		{name: "space thousands", input: "1 234,56", want: "1234.56"},
		{name: "no-break space thousands", input: "1\u00a0234,50", want: "1234.5"},
		{name: "apostrophe thousands", input: "1'234.00", want: "1234"},

		// Currency
		{name: "zloty suffix", input: "1 234,56 zł", want: "1234.56"},
		{name: "PLN prefix", input: "PLN 99", want: "99"},
		{name: "euro sign", input: "€1234.56", want: "1234.56"},
		{name: "dollar with thousands", input: "$1,234,567.89", want: "1234567.89"},

		// Accounting and export artifacts
		{name: "accounting negative", input: "(123.45)", want: "-123.45"},
		{name: "excel text formula", input: `="12"`, want: "12"},

		// Errors
		{name: "letters", input: "abc", wantErr: true},
		{name: "mixed text", input: "12 pcs", wantErr: true},
		{name: "double sign", input: "--5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDecimal(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParsePercent(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "empty", input: "", want: ""},
		{name: "percent sign", input: "23%", want: "23"},
		{name: "spaced percent", input: "23 %", want: "23"},
		{name: "bare number", input: "8", want: "8"},
		{name: "decimal comma", input: "5,5", want: "5.5"},
		{name: "exempt polish", input: "zw", want: "0"},
		{name: "exempt uppercase", input: "NP", want: "0"},
		{name: "exempt english", input: "exempt", want: "0"},
		{name: "above 100", input: "101", wantErr: true},
		{name: "negative", input: "-1", wantErr: true},
		{name: "text", input: "standard", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePercent(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple string unchanged", "hello", "hello"},
		{"empty string", "", ""},
		{"surrounded by whitespace", "  hello  ", "hello"},
		{"Excel formula with quotes", `="hello"`, "hello"},
		{"Excel formula number as text", `="12345"`, "12345"},
		{"bare equals sign", "=SUM(A1)", "SUM(A1)"},
		{"double quoted", `"quoted"`, "quoted"},
		{"single quoted", `'12'`, "12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanCell(tt.input))
		})
	}
}
