package core

import "github.com/shopspring/decimal"

// Measure is a single decoded Withings measurement
type Measure struct {
	Type  int             `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// MeasureGroup is a set of measurements taken together
type MeasureGroup struct {
	GroupID  int64     `json:"grpid"`
	Date     int64     `json:"date"`
	Category int       `json:"category"`
	Measures []Measure `json:"measures"`
}

// MeasureBody is a page of measure groups as Withings returns it.
// More and Offset tell the caller whether another page follows.
type MeasureBody struct {
	MeasureGroups []MeasureGroup `json:"measuregrps"`
	More          int            `json:"more"`
	Offset        int            `json:"offset"`
	Timezone      string         `json:"timezone,omitempty"`
	UpdateTime    int64          `json:"updatetime,omitempty"`
}
