package ledger_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusworks/bursar-engine/ledger"
)

// =============================================================================
// PARSING TESTS
// =============================================================================

func TestParseMoney_BoundaryStrings(t *testing.T) {
	// GIVEN: decimal strings as they arrive from the API
	// WHEN: parsed into minor units
	// THEN: exact integer centavos, no float drift

	cases := []struct {
		in   string
		want ledger.Money
	}{
		{"6500.00", 650000},
		{"0.01", 1},
		{"45000.00", 4500000},
		{"14850", 1485000},
		{"0.5", 50},
		{"-120.25", -12025},
	}
	for _, c := range cases {
		got, err := ledger.ParseMoney(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestParseMoney_RejectsSubCentavoPrecision(t *testing.T) {
	// GIVEN: a value with three fraction digits
	// WHEN: parsed
	// THEN: rejected rather than silently truncated

	_, err := ledger.ParseMoney("10.005")
	assert.Error(t, err)

	_, err = ledger.ParseMoney("not-money")
	assert.Error(t, err)
}

func TestParseMoney_RejectsOutOfRangeMagnitude(t *testing.T) {
	// GIVEN: values at and beyond the int64 minor-unit boundary
	// THEN: the extremes parse exactly, one centavo past them is rejected
	// instead of wrapping through silent truncation

	got, err := ledger.ParseMoney("92233720368547758.07")
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(math.MaxInt64), got)

	got, err = ledger.ParseMoney("-92233720368547758.08")
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(math.MinInt64), got)

	_, err = ledger.ParseMoney("92233720368547758.08")
	assert.Error(t, err)

	_, err = ledger.ParseMoney("-92233720368547758.09")
	assert.Error(t, err)

	_, err = ledger.ParseMoney("1e30")
	assert.Error(t, err)
}

func TestMoney_String_AlwaysTwoFractionDigits(t *testing.T) {
	assert.Equal(t, "6500.00", ledger.Money(650000).String())
	assert.Equal(t, "0.05", ledger.Money(5).String())
	assert.Equal(t, "0.00", ledger.Money(0).String())
	assert.Equal(t, "-25.50", ledger.Money(-2550).String())
}

// =============================================================================
// ARITHMETIC TESTS
// =============================================================================

func TestMoney_ClampNonNegative(t *testing.T) {
	assert.Equal(t, ledger.Money(0), ledger.Money(-100).ClampNonNegative())
	assert.Equal(t, ledger.Money(100), ledger.Money(100).ClampNonNegative())
}

func TestPercentOf_RoundsHalfUp(t *testing.T) {
	// GIVEN: a 2% gateway fee on 5000.00
	// THEN: exactly 100.00
	assert.Equal(t, ledger.MustParseMoney("100.00"),
		ledger.PercentOf(ledger.MustParseMoney("5000.00"), decimal.NewFromInt(2)))

	// GIVEN: 33% of 45000.00
	// THEN: 14850.00, the prelim share of the standard assessment
	assert.Equal(t, ledger.MustParseMoney("14850.00"),
		ledger.PercentOf(ledger.MustParseMoney("45000.00"), decimal.NewFromInt(33)))

	// GIVEN: a fee landing on a half centavo (3.5% of 0.10 = 0.0035 -> 0.00;
	// 3.5% of 1.00 = 0.035 -> rounds up to 0.04)
	assert.Equal(t, ledger.Money(4),
		ledger.PercentOf(ledger.MustParseMoney("1.00"), decimal.NewFromFloat(3.5)))
}
