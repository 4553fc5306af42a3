package core

import (
	"fmt"
	"strings"
	"testing"
)

// ============================================================================
// Conversion Benchmarks
// ============================================================================

// BenchmarkParseDecimal covers the number styles seen in supplier exports.
// This runs for every numeric cell of every committed row.
func BenchmarkParseDecimal(b *testing.B) {
	testCases := []string{
		"123",
		"-456.78",
		"1 234,56 zł",
		"(123.45)",
		"1,234,567.89",
		"€1234.56",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			_, _ = ParseDecimal(tc)
		}
	}
}

func BenchmarkParseDecimal_Simple(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = ParseDecimal("12345")
	}
}

func BenchmarkCleanCell(b *testing.B) {
	for i := 0; i < b.N; i++ {
		CleanCell(`  ="12345"  `)
	}
}

// ============================================================================
// Detection and Reading Benchmarks
// ============================================================================

func BenchmarkDetectEncoding(b *testing.B) {
	data := generateTestCSV(1000, ';')
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		DetectEncoding(data)
	}
}

func BenchmarkDetectDelimiter(b *testing.B) {
	data := generateTestCSV(1000, ';')
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		DetectDelimiter(data)
	}
}

func BenchmarkParseTable(b *testing.B) {
	data := generateTestCSV(1000, ',')
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ParseTable(data, ReadOptions{}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkParseTable_Large(b *testing.B) {
	data := generateTestCSV(DefaultMaxRows, ';')
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ParseTable(data, ReadOptions{}); err != nil {
			b.Fatal(err)
		}
	}
}

// ============================================================================
// Mapping and Validation Benchmarks
// ============================================================================

func BenchmarkGuessMapping(b *testing.B) {
	m := NewSchemaMapper()
	headers := []string{"Kod produktu", "Nazwa", "Cena netto", "VAT %", "Ilość", "Producent", "Notes", "EAN-13"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.GuessMappingOrdered(headers)
	}
}

func BenchmarkSkuValidate(b *testing.B) {
	v := NewSkuValidator()
	skus := []string{"ABC-123", "PRÓDUKT 123", "x", "A/B.C_D", "BAD#SKU"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, s := range skus {
			v.Validate(s)
		}
	}
}

func BenchmarkParseTokens(b *testing.B) {
	var sb strings.Builder
	for i := 0; i < 5000; i++ {
		fmt.Fprintf(&sb, "SKU-%05d, SKU-%05d\n", i, i+1)
	}
	text := sb.String()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ParseTokens(text, TokenOptions{})
	}
}

// BenchmarkSkuValidateParallel checks the validator is safe and cheap to
// share across import goroutines.
func BenchmarkSkuValidateParallel(b *testing.B) {
	v := NewSkuValidator()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			v.Validate("PRÓDUKT 123")
		}
	})
}

// ============================================================================
// Helper Functions
// ============================================================================

func generateTestCSV(rows int, delim rune) []byte {
	d := string(delim)
	var sb strings.Builder
	sb.WriteString(strings.Join([]string{"SKU", "Nazwa", "Cena", "VAT", "Producent"}, d))
	sb.WriteByte('\n')
	for i := 0; i < rows; i++ {
		fields := []string{
			fmt.Sprintf("SKU-%06d", i),
			fmt.Sprintf("Produkt %d", i),
			fmt.Sprintf("%d.%02d", i%1000, i%100),
			"23%",
			fmt.Sprintf("Producent %d", i%20),
		}
		sb.WriteString(strings.Join(fields, d))
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}
