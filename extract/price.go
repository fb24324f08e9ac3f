package extract

import (
	"strconv"
	"strings"

	"github.com/flatwatch/flatwatch/models"
)

// NormalizePrice converts raw price text into structured Money. It strips
// non-breaking spaces and thousands separators before digit extraction and
// infers the currency from marker substrings. Empty input and input
// without digits yield nil, meaning "no price observed". Deterministic and
// side-effect free.
func NormalizePrice(raw string) *models.Money {
	raw = strings.ReplaceAll(raw, " ", " ")
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return nil
	}

	amount, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return nil
	}

	return &models.Money{Amount: amount, Currency: detectCurrency(raw)}
}

func detectCurrency(raw string) models.Currency {
	switch {
	case strings.Contains(raw, "грн") || strings.Contains(raw, "₴"):
		return models.CurrencyUAH
	case strings.Contains(raw, "$") || strings.Contains(strings.ToUpper(raw), "USD"):
		return models.CurrencyUSD
	default:
		return models.CurrencyUnknown
	}
}
