package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// TimeMode is the bucketing period of a summary.
type TimeMode int

const (
	TimeModeDaily TimeMode = iota + 1
	TimeModeWeekly
	TimeModeMonthly
)

// TimeModes lists every mode in materialization order.
func TimeModes() []TimeMode {
	return []TimeMode{TimeModeDaily, TimeModeWeekly, TimeModeMonthly}
}

func (m TimeMode) String() string {
	switch m {
	case TimeModeDaily:
		return "daily"
	case TimeModeWeekly:
		return "weekly"
	case TimeModeMonthly:
		return "monthly"
	}
	return fmt.Sprintf("TimeMode(%d)", int(m))
}

func (m TimeMode) Valid() bool {
	return m >= TimeModeDaily && m <= TimeModeMonthly
}

func ParseTimeMode(s string) (TimeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily":
		return TimeModeDaily, nil
	case "weekly":
		return TimeModeWeekly, nil
	case "monthly":
		return TimeModeMonthly, nil
	}
	return 0, fmt.Errorf("invalid time mode %q", s)
}

func (m TimeMode) MarshalJSON() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid time mode %d", int(m))
	}
	return json.Marshal(m.String())
}

func (m *TimeMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.New("time mode must be string")
	}
	v, err := ParseTimeMode(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// stored as its name so the table stays readable by other tools
func (m TimeMode) Value() (driver.Value, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid time mode %d", int(m))
	}
	return m.String(), nil
}

func (m *TimeMode) Scan(value interface{}) error {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into TimeMode", value)
	}
	parsed, err := ParseTimeMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ReportMetric selects which aggregate a report serves.
type ReportMetric string

const (
	ReportMetricCount  ReportMetric = "count"
	ReportMetricAmount ReportMetric = "amount"
)

func ParseReportMetric(s string) (ReportMetric, error) {
	switch ReportMetric(strings.ToLower(strings.TrimSpace(s))) {
	case ReportMetricCount:
		return ReportMetricCount, nil
	case ReportMetricAmount:
		return ReportMetricAmount, nil
	}
	return "", fmt.Errorf("invalid report metric %q", s)
}

// SummaryScope decides whether summaries are materialized per merchant or
// as one global aggregate (stored with an empty merchant id).
type SummaryScope string

const (
	SummaryScopeMerchant SummaryScope = "merchant"
	SummaryScopeGlobal   SummaryScope = "global"
)

func ParseSummaryScope(s string) (SummaryScope, error) {
	switch SummaryScope(strings.ToLower(strings.TrimSpace(s))) {
	case "", SummaryScopeMerchant:
		return SummaryScopeMerchant, nil
	case SummaryScopeGlobal:
		return SummaryScopeGlobal, nil
	}
	return "", fmt.Errorf("invalid summary scope %q", s)
}
