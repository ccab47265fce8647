package audit

import "fmt"

// CriterionID identifies a rubric criterion
type CriterionID string

const (
	CriterionFormalValidity            CriterionID = "formal_validity"
	CriterionMarketPriceAligned        CriterionID = "market_price_aligned"
	CriterionHistoricalPriceConsistent CriterionID = "historical_price_consistent"
	CriterionVendorTotalDrift          CriterionID = "vendor_total_drift"
)

// Level says how often a criterion is evaluated per invoice
type Level int

const (
	LevelInvoice Level = iota
	LevelLineItem
)

// Criterion is one weighted row of the rubric
type Criterion struct {
	ID        CriterionID
	MaxPoints int
	Level     Level
	// Signal is the signal type backing the criterion; empty when it is
	// evaluated from the extraction itself.
	Signal SignalType
}

// Criteria is the fixed rubric. Weights sum to 100.
var Criteria = []Criterion{
	{ID: CriterionFormalValidity, MaxPoints: 20, Level: LevelInvoice},
	{ID: CriterionMarketPriceAligned, MaxPoints: 27, Level: LevelLineItem, Signal: SignalMarketDeviation},
	{ID: CriterionHistoricalPriceConsistent, MaxPoints: 27, Level: LevelLineItem, Signal: SignalHistoricalDeviation},
	{ID: CriterionVendorTotalDrift, MaxPoints: 26, Level: LevelInvoice, Signal: SignalVendorTotalDrift},
}

func init() {
	if err := ValidateCriteria(Criteria); err != nil {
		panic(err)
	}
}

// ValidateCriteria checks that ids are unique, weights positive, and the total is exactly 100
func ValidateCriteria(criteria []Criterion) error {
	seen := make(map[CriterionID]bool, len(criteria))
	total := 0
	for _, c := range criteria {
		if seen[c.ID] {
			return fmt.Errorf("duplicate criterion %q", c.ID)
		}
		seen[c.ID] = true
		if c.MaxPoints <= 0 {
			return fmt.Errorf("criterion %q has non-positive weight %d", c.ID, c.MaxPoints)
		}
		total += c.MaxPoints
	}
	if total != 100 {
		return fmt.Errorf("criterion weights must sum to 100, got %d", total)
	}
	return nil
}
