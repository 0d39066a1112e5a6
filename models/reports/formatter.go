package reports

import (
	"encoding/json"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/mmdatafocus/txsummary/models"
)

// ReportRow is one {key, value} entry of a report response.
type ReportRow struct {
	Key   string
	Value decimal.Decimal
	// Date orders rows chronologically; it is not part of the response.
	Date models.JalaliDateFields
}

type reportRowJSON struct {
	Key   string      `json:"key"`
	Value json.Number `json:"value"`
}

func (r ReportRow) MarshalJSON() ([]byte, error) {
	return json.Marshal(reportRowJSON{Key: r.Key, Value: json.Number(r.Value.String())})
}

func (r *ReportRow) UnmarshalJSON(b []byte) error {
	var raw reportRowJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, err := decimal.NewFromString(raw.Value.String())
	if err != nil {
		return err
	}
	r.Key = raw.Key
	r.Value = v
	return nil
}

// FormatSummary renders a stored summary. Its date is already Jalali.
func FormatSummary(rec *models.TransactionSummary, metric models.ReportMetric) (ReportRow, error) {
	key, err := models.DisplayKey(rec.Type, rec.Date)
	if err != nil {
		return ReportRow{}, err
	}
	value := decimal.NewFromInt(rec.Count)
	if metric == models.ReportMetricAmount {
		value = rec.Amount
	}
	return ReportRow{Key: key, Value: value, Date: rec.Date}, nil
}

// FormatGrouped converts a live aggregation row to Jalali and renders it.
func FormatGrouped(row models.GroupedRow, mode models.TimeMode, metric models.ReportMetric) (ReportRow, error) {
	date, _, err := models.CalendarFields(mode, row.Key())
	if err != nil {
		return ReportRow{}, err
	}
	key, err := models.DisplayKey(mode, date)
	if err != nil {
		return ReportRow{}, err
	}
	return ReportRow{Key: key, Value: row.Value(metric), Date: date}, nil
}

// SortRows orders rows by their numeric Jalali date, so 1403/01/02 comes
// before 1403/01/10 whatever the key strings look like.
func SortRows(rows []ReportRow) {
	slices.SortStableFunc(rows, func(a, b ReportRow) int {
		return models.CompareDateFields(a.Date, b.Date)
	})
}

// mergeRows sums rows sharing a date and returns them in chronological order.
func mergeRows(rows []ReportRow) []ReportRow {
	out := make([]ReportRow, 0, len(rows))
	idx := make(map[models.JalaliDateFields]int, len(rows))
	for _, r := range rows {
		if i, ok := idx[r.Date]; ok {
			out[i].Value = out[i].Value.Add(r.Value)
			continue
		}
		idx[r.Date] = len(out)
		out = append(out, r)
	}
	SortRows(out)
	return out
}
