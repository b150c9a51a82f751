package orders

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultVATRate is the Indonesian PPN rate applied to the item subtotal.
var DefaultVATRate = decimal.RequireFromString("0.11")

type Pricing struct {
	VATRate       decimal.Decimal
	ShippingRates map[string]int64
}

func DefaultPricing() Pricing {
	return Pricing{
		VATRate: DefaultVATRate,
		ShippingRates: map[string]int64{
			"regular":  10000,
			"express":  25000,
			"same_day": 40000,
		},
	}
}

// Tax is subtotal × rate rounded half away from zero to whole minor units.
// Shipping is not part of the taxable base.
func (p Pricing) Tax(subtotal int64) int64 {
	return decimal.NewFromInt(subtotal).Mul(p.VATRate).Round(0).IntPart()
}

func (p Pricing) ShippingCost(method string) (int64, bool) {
	c, ok := p.ShippingRates[method]
	return c, ok
}

func Total(subtotal, shipping, tax, discount int64) int64 {
	return subtotal + shipping + tax - discount
}

// ParseShippingRates reads "regular:10000,express:25000".
func ParseShippingRates(s string) (map[string]int64, error) {
	out := map[string]int64{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, cost, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("shipping rate %q: want name:cost", part)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(cost), 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("shipping rate %q: invalid cost", part)
		}
		out[strings.TrimSpace(name)] = n
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no shipping rates in %q", s)
	}
	return out, nil
}
