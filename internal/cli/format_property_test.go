package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestFormatIndianCurrency_KnownValues(t *testing.T) {
	cases := map[float64]string{
		0:           "₹0.00",
		999:         "₹999.00",
		1000:        "₹1,000.00",
		100000:      "₹1,00,000.00",
		10000000:    "₹1,00,00,000.00",
		2843.5:      "₹2,843.50",
		-1234567.89: "-₹12,34,567.89",
	}
	for amount, want := range cases {
		assert.Equal(t, want, FormatIndianCurrency(amount))
	}
}

// Property: formatting never loses digits. Stripping the currency
// symbol, separators and decimal point always reproduces the original
// amount in paise.
func TestProperty_FormatIndianCurrencyRoundTrips(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	// Work on integer paise to sidestep float formatting noise.
	paiseGen := gen.Int64Range(-1e13, 1e13)

	properties.Property("digits survive formatting", prop.ForAll(
		func(paise int64) bool {
			amount := float64(paise) / 100
			formatted := FormatIndianCurrency(amount)

			stripped := strings.NewReplacer("₹", "", ",", "", ".", "").Replace(formatted)
			negative := strings.HasPrefix(stripped, "-")
			stripped = strings.TrimPrefix(stripped, "-")
			stripped = strings.TrimLeft(stripped, "0")
			if stripped == "" {
				stripped = "0"
			}

			want := paise
			if want < 0 {
				want = -want
			}
			wantStr := strings.TrimLeft(formatInt(want), "0")
			if wantStr == "" {
				wantStr = "0"
			}

			if stripped != wantStr {
				t.Logf("FAILED: paise=%d formatted=%q stripped=%q want=%q", paise, formatted, stripped, wantStr)
				return false
			}
			if negative != (paise < 0 && stripped != "0") {
				t.Logf("FAILED sign: paise=%d formatted=%q", paise, formatted)
				return false
			}
			return true
		},
		paiseGen,
	))

	properties.Property("group sizes follow the Indian system", prop.ForAll(
		func(paise int64) bool {
			if paise < 0 {
				paise = -paise
			}
			formatted := FormatIndianCurrency(float64(paise) / 100)
			intPart := strings.TrimPrefix(strings.Split(formatted, ".")[0], "₹")

			groups := strings.Split(intPart, ",")
			if len(groups[len(groups)-1]) > 3 {
				return false
			}
			for _, g := range groups[:len(groups)-1] {
				if len(g) < 1 || len(g) > 2 {
					return false
				}
			}
			return true
		},
		gen.Int64Range(0, 1e13),
	))

	properties.TestingRun(t)
}

func formatInt(v int64) string {
	if v == 0 {
		return "0"
	}
	var digits []byte
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	return string(digits)
}
