package ledger

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// SumTolerance is the largest accepted difference between a debt's declared
// total and the sum of its generated installments.
var SumTolerance = decimal.New(1, -2)

var brl = message.NewPrinter(language.BrazilianPortuguese)

// Cents rounds to two decimal places.
func Cents(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// FormatBRL renders an amount as Brazilian reais, e.g. "R$ 1.234,50".
func FormatBRL(d decimal.Decimal) string {
	return brl.Sprintf("R$ %v", number.Decimal(Cents(d).InexactFloat64(), number.Scale(2)))
}

// checkCents rejects amounts finer than one cent.
func checkCents(field string, d decimal.Decimal) error {
	if !d.Equal(Cents(d)) {
		return invalid(field, "%s has more than two decimal places", d.String())
	}
	return nil
}

func formatNull(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return FormatBRL(d.Decimal)
}

func nullDecimal(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
