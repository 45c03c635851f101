package paywall

import (
	"math/big"
	"strings"
)

// usdcDecimals is the fixed-point precision of USDC.
const usdcDecimals = 6

// ParseMoney converts a display price like "$0.003" into a 6-decimal
// fixed-point USDC amount string ("3000"). The amount must be strictly
// positive and must not carry more precision than USDC supports.
func ParseMoney(price string) (string, error) {
	s := strings.TrimSpace(price)
	s = strings.TrimPrefix(s, "$")
	if s == "" {
		return "", NewPaymentError(ErrCodeInvalidAmount, "empty price", nil)
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > usdcDecimals {
		return "", NewPaymentError(ErrCodeInvalidAmount,
			"price has more than 6 decimal places: "+price, nil)
	}
	frac += strings.Repeat("0", usdcDecimals-len(frac))

	units, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return "", NewPaymentError(ErrCodeInvalidAmount, "malformed price: "+price, nil)
	}
	if units.Sign() <= 0 {
		return "", NewPaymentError(ErrCodeInvalidAmount, "price must be positive: "+price, nil)
	}
	return units.String(), nil
}

// FormatMoney renders a 6-decimal USDC amount string back into display form
// ("3000" -> "$0.003"). Malformed input is returned untouched.
func FormatMoney(amount string) string {
	units, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return amount
	}

	q, r := new(big.Int).QuoRem(units, big.NewInt(1_000_000), new(big.Int))
	frac := strings.TrimRight(r.Text(10), "0")
	if frac == "" {
		return "$" + q.String()
	}
	pad := strings.Repeat("0", usdcDecimals-len(r.Text(10)))
	return "$" + q.String() + "." + pad + frac
}
