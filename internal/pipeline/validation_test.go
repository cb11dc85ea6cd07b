package pipeline

import (
	"math"
	"testing"

	"github.com/dvloznov/finance-advisor/internal/domain"
)

func TestNormalizeCandidate(t *testing.T) {
	tests := []struct {
		name string
		in   domain.ExtractedTransaction
		want domain.ExtractedTransaction
	}{
		{
			name: "vocabulary match is case-insensitive",
			in:   domain.ExtractedTransaction{Date: "2024-01-01", Merchant: "Tesco", Amount: 5, Currency: "gbp", Category: "  GROCERIES "},
			want: domain.ExtractedTransaction{Date: "2024-01-01", Merchant: "Tesco", Amount: 5, Currency: "GBP", Category: "Groceries"},
		},
		{
			name: "unknown category kept verbatim",
			in:   domain.ExtractedTransaction{Merchant: "Gym", Category: "Fitness", Currency: "EUR"},
			want: domain.ExtractedTransaction{Merchant: "Gym", Category: "Fitness", Currency: "EUR"},
		},
		{
			name: "empty category stays empty",
			in:   domain.ExtractedTransaction{Merchant: "Shop", Currency: "USD"},
			want: domain.ExtractedTransaction{Merchant: "Shop", Currency: "USD"},
		},
		{
			name: "missing currency defaults",
			in:   domain.ExtractedTransaction{Merchant: "Shop"},
			want: domain.ExtractedTransaction{Merchant: "Shop", Currency: "USD"},
		},
		{
			name: "merchant whitespace collapsed",
			in:   domain.ExtractedTransaction{Merchant: "  Pret   A\tManger ", Currency: "GBP"},
			want: domain.ExtractedTransaction{Merchant: "Pret A Manger", Currency: "GBP"},
		},
		{
			name: "non-finite amount zeroed",
			in:   domain.ExtractedTransaction{Merchant: "X", Amount: math.Inf(1), Currency: "GBP"},
			want: domain.ExtractedTransaction{Merchant: "X", Currency: "GBP"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeCandidate(tt.in); got != tt.want {
				t.Errorf("normalizeCandidate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
