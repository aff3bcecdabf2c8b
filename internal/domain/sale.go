package domain

import (
	"strconv"
	"time"
)

// Sale is one sales transaction to be priced. Sales are read-only inputs to
// the engine; it never mutates or persists them.
type Sale struct {
	ID            string  `json:"id"`
	ContractID    string  `json:"contractId,omitempty"`
	Product       string  `json:"product"`
	Category      string  `json:"category,omitempty"`
	Territory     string  `json:"territory,omitempty"`
	ContainerSize string  `json:"containerSize,omitempty"`
	Quantity      float64 `json:"quantity"`
	GrossAmount   float64 `json:"grossAmount,omitempty"`

	// Date is the transaction date. The zero value means unknown.
	Date time.Time `json:"date"`

	// Extra carries any additional fields the data source attaches; they are
	// visible to formulas by exact key name.
	Extra map[string]Value `json:"extra,omitempty"`
}

// Seasons derived from the transaction month.
const (
	SeasonSpring  = "Spring"
	SeasonSummer  = "Summer"
	SeasonFall    = "Fall"
	SeasonHoliday = "Holiday"
)

// SeasonOf maps a date to its sales season. The four buckets partition all
// twelve months: Holiday covers December and January, Spring February
// through May, Summer June through August, Fall September through November.
func SeasonOf(t time.Time) string {
	switch m := t.Month(); {
	case m == time.December || m == time.January:
		return SeasonHoliday
	case m <= time.May:
		return SeasonSpring
	case m <= time.August:
		return SeasonSummer
	default:
		return SeasonFall
	}
}

// Season returns the sale's derived season.
func (s *Sale) Season() string {
	return SeasonOf(s.Date)
}

// EvalContext builds the evaluation context for this sale. The well-known
// keys are units, season, territory, product, category, containerSize,
// grossAmount, and quantity (stringified, for range lookups); Extra fields
// are merged in last and may shadow them.
func (s *Sale) EvalContext() Context {
	ctx := Context{
		"units":         NumberValue(s.Quantity),
		"quantity":      StringValue(strconv.FormatFloat(s.Quantity, 'f', -1, 64)),
		"season":        StringValue(s.Season()),
		"territory":     StringValue(s.Territory),
		"product":       StringValue(s.Product),
		"category":      StringValue(s.Category),
		"containerSize": StringValue(s.ContainerSize),
		"grossAmount":   NumberValue(s.GrossAmount),
	}
	for k, v := range s.Extra {
		ctx[k] = v
	}
	return ctx
}
