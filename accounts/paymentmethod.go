/*
paymentmethod.go - Payment channels and their fee strategies

PURPOSE:
  Each payment channel charges its own convenience fee: a flat amount, a
  percentage of the tendered amount, or both. Charge computes the gross
  the channel captures; the student's ledger is credited the full gross,
  and the fee portion is reported for the receipt.

FEE MODEL:
  gross = tendered + flat + round_half_up(tendered * percent / 100)

  The percentage applies to the tendered amount only, never to the flat
  fee, and rounding happens once, at the percentage step.
*/
package accounts

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/campusworks/bursar-engine/ledger"
)

// =============================================================================
// PAYMENT METHOD
// =============================================================================

type PaymentMethod struct {
	// Code is the channel identifier stored on PAYMENT transactions.
	Code string `json:"code"`
	Name string `json:"name"`

	FlatFee     ledger.Money    `json:"flat_fee"`
	PercentFee  decimal.Decimal `json:"percent_fee"`
	Description string          `json:"description,omitempty"`
}

// ChannelCharge is the fee breakdown for one tendered amount.
type ChannelCharge struct {
	Tendered ledger.Money `json:"tendered"`
	Fee      ledger.Money `json:"fee"`
	Gross    ledger.Money `json:"gross"`
}

// Charge computes the channel fee on a tendered amount.
func (pm PaymentMethod) Charge(tendered ledger.Money) (ChannelCharge, error) {
	if !tendered.IsPositive() {
		return ChannelCharge{}, fmt.Errorf("%w: tendered %s", ledger.ErrInvalidAmount, tendered)
	}
	fee := pm.FlatFee.Add(ledger.PercentOf(tendered, pm.PercentFee))
	return ChannelCharge{
		Tendered: tendered,
		Fee:      fee,
		Gross:    tendered.Add(fee),
	}, nil
}

// HasFee reports whether the channel charges anything at all.
func (pm PaymentMethod) HasFee() bool {
	return pm.FlatFee.IsPositive() || pm.PercentFee.IsPositive()
}

// =============================================================================
// CATALOG - Channel lookup
// =============================================================================

// Catalog holds the payment channels accepted by the institution.
type Catalog struct {
	byCode map[string]PaymentMethod
}

func NewCatalog(methods ...PaymentMethod) *Catalog {
	c := &Catalog{byCode: make(map[string]PaymentMethod, len(methods))}
	for _, pm := range methods {
		c.byCode[pm.Code] = pm
	}
	return c
}

// Find resolves a channel by code.
func (c *Catalog) Find(code string) (PaymentMethod, error) {
	pm, ok := c.byCode[code]
	if !ok {
		return PaymentMethod{}, fmt.Errorf("unknown payment channel %q", code)
	}
	return pm, nil
}

// All returns the channels sorted by code, for listings.
func (c *Catalog) All() []PaymentMethod {
	out := make([]PaymentMethod, 0, len(c.byCode))
	for _, pm := range c.byCode {
		out = append(out, pm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// DefaultChannels returns the channels the institution accepts out of the
// box. Deployments override these through the catalog file.
func DefaultChannels() []PaymentMethod {
	return []PaymentMethod{
		{Code: "UNIONBANK", Name: "UnionBank"},
		{Code: "DRAGONPAY", Name: "Dragonpay", FlatFee: ledger.MustParseMoney("25.00"), PercentFee: decimal.NewFromInt(2)},
		{Code: "BPI", Name: "BPI Online", FlatFee: ledger.MustParseMoney("15.00")},
		{Code: "BDO", Name: "BDO Online", FlatFee: ledger.MustParseMoney("20.00")},
		{Code: "BDO_BILLS", Name: "BDO Bills Payment", FlatFee: ledger.MustParseMoney("10.00")},
		{Code: "BUKAS", Name: "Bukas Tuition Installment", PercentFee: decimal.NewFromFloat(3.5)},
	}
}
