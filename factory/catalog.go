/*
Package factory provides JSON to Go catalog conversion.

PURPOSE:
  Converts JSON catalog definitions into payment channels, fee schedules,
  and itemized assessment templates. The bursar's office changes rates and
  channel fees every term; the catalog file lets them do that without a
  code change or redeploy.

JSON SCHEMA:
  {
    "default_prelim_rate": "33",
    "fee_schedules": [
      {"semester": "FIRST SEMESTER", "academic_year": "2025-2026", "prelim_rate": "33"}
    ],
    "channels": [
      {"code": "DRAGONPAY", "name": "Dragonpay", "flat_fee": "25.00", "percent_fee": "2"}
    ],
    "assessment_template": {
      "items": [
        {"description": "Tuition (21 units)", "amount": "31500.00"},
        {"description": "Laboratory fees", "amount": "6500.00"},
        {"description": "Miscellaneous fees", "amount": "7000.00"}
      ]
    }
  }

KEY FEATURES:
  - Validates amounts and rates at parse time, not first use
  - Falls back to the built-in channel list when none are configured
  - Template items sum to the standard term assessment

USAGE:
  factory := NewCatalogFactory()
  catalog, err := factory.ParseCatalog(jsonBytes)
  // catalog.Channels, catalog.Schedules, catalog.Template
  // (the template backs WithAssessmentTemplate on the account service)

SEE ALSO:
  - accounts/paymentmethod.go: PaymentMethod and Catalog types
  - accounts/feeschedule.go: FeeSchedule and ScheduleTable types
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/campusworks/bursar-engine/accounts"
	"github.com/campusworks/bursar-engine/ledger"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CatalogJSON is the JSON representation of the institutional catalog.
type CatalogJSON struct {
	DefaultPrelimRate  string              `json:"default_prelim_rate"`
	FeeSchedules       []FeeScheduleJSON   `json:"fee_schedules,omitempty"`
	Channels           []ChannelJSON       `json:"channels,omitempty"`
	AssessmentTemplate *AssessmentJSON     `json:"assessment_template,omitempty"`
}

// FeeScheduleJSON represents one term's schedule.
type FeeScheduleJSON struct {
	Semester     string `json:"semester"`
	AcademicYear string `json:"academic_year"`
	PrelimRate   string `json:"prelim_rate"`
}

// ChannelJSON represents a payment channel and its fee strategy.
type ChannelJSON struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	FlatFee     string `json:"flat_fee,omitempty"`
	PercentFee  string `json:"percent_fee,omitempty"`
	Description string `json:"description,omitempty"`
}

// AssessmentJSON is the itemized standard assessment for a term.
type AssessmentJSON struct {
	Items []AssessmentItemJSON `json:"items"`
}

type AssessmentItemJSON struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

// =============================================================================
// PARSED CATALOG
// =============================================================================

// ParsedCatalog bundles everything the service needs at construction.
type ParsedCatalog struct {
	Channels  *accounts.Catalog
	Schedules *accounts.ScheduleTable
	Template  accounts.AssessmentTemplate
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

// CatalogFactory converts JSON catalogs to Go structs.
type CatalogFactory struct{}

func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{}
}

// DefaultPrelimRate applies when the catalog names no rate at all.
var DefaultPrelimRate = decimal.NewFromInt(33)

// ParseCatalog validates and converts a JSON catalog.
func (f *CatalogFactory) ParseCatalog(data []byte) (*ParsedCatalog, error) {
	var raw CatalogJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid catalog JSON: %w", err)
	}

	defaultRate := DefaultPrelimRate
	if raw.DefaultPrelimRate != "" {
		r, err := parseRate(raw.DefaultPrelimRate)
		if err != nil {
			return nil, fmt.Errorf("default_prelim_rate: %w", err)
		}
		defaultRate = r
	}

	schedules := make([]accounts.FeeSchedule, 0, len(raw.FeeSchedules))
	for i, fs := range raw.FeeSchedules {
		if fs.Semester == "" || fs.AcademicYear == "" {
			return nil, fmt.Errorf("fee_schedules[%d]: semester and academic_year are required", i)
		}
		rate, err := parseRate(fs.PrelimRate)
		if err != nil {
			return nil, fmt.Errorf("fee_schedules[%d]: %w", i, err)
		}
		schedules = append(schedules, accounts.FeeSchedule{
			Term:       accounts.Term{Semester: fs.Semester, AcademicYear: fs.AcademicYear},
			PrelimRate: rate,
		})
	}

	channels := accounts.DefaultChannels()
	if len(raw.Channels) > 0 {
		channels = channels[:0]
		for i, c := range raw.Channels {
			pm, err := parseChannel(c)
			if err != nil {
				return nil, fmt.Errorf("channels[%d]: %w", i, err)
			}
			channels = append(channels, pm)
		}
	}

	var template accounts.AssessmentTemplate
	if raw.AssessmentTemplate != nil {
		for i, item := range raw.AssessmentTemplate.Items {
			amount, err := ledger.ParseMoney(item.Amount)
			if err != nil {
				return nil, fmt.Errorf("assessment_template.items[%d]: %w", i, err)
			}
			if !amount.IsPositive() {
				return nil, fmt.Errorf("assessment_template.items[%d]: amount must be positive", i)
			}
			template.Items = append(template.Items, accounts.AssessmentItem{
				Description: item.Description,
				Amount:      amount,
			})
		}
	}

	return &ParsedCatalog{
		Channels:  accounts.NewCatalog(channels...),
		Schedules: accounts.NewScheduleTable(defaultRate, schedules...),
		Template:  template,
	}, nil
}

// LoadCatalogFile reads and parses a catalog file. An empty path yields
// the built-in defaults.
func (f *CatalogFactory) LoadCatalogFile(path string) (*ParsedCatalog, error) {
	if path == "" {
		return f.ParseCatalog([]byte(`{}`))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return f.ParseCatalog(data)
}

// =============================================================================
// HELPERS
// =============================================================================

func parseRate(s string) (decimal.Decimal, error) {
	r, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	if r.IsNegative() || r.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Decimal{}, fmt.Errorf("rate %s%% out of range", r)
	}
	return r, nil
}

func parseChannel(c ChannelJSON) (accounts.PaymentMethod, error) {
	if c.Code == "" {
		return accounts.PaymentMethod{}, fmt.Errorf("channel code is required")
	}
	pm := accounts.PaymentMethod{Code: c.Code, Name: c.Name, Description: c.Description}
	if c.FlatFee != "" {
		flat, err := ledger.ParseMoney(c.FlatFee)
		if err != nil {
			return accounts.PaymentMethod{}, err
		}
		if flat.IsNegative() {
			return accounts.PaymentMethod{}, fmt.Errorf("flat fee must not be negative")
		}
		pm.FlatFee = flat
	}
	if c.PercentFee != "" {
		pct, err := parseRate(c.PercentFee)
		if err != nil {
			return accounts.PaymentMethod{}, err
		}
		pm.PercentFee = pct
	}
	return pm, nil
}
