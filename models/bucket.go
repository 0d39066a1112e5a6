package models

import (
	"cmp"
	"fmt"

	"github.com/mmdatafocus/txsummary/jalali"
	"github.com/mmdatafocus/txsummary/utils"
)

// GroupField is a Gregorian calendar field the store extracts from created_at.
type GroupField int

const (
	GroupFieldYear GroupField = iota + 1
	GroupFieldMonth
	GroupFieldDayOfMonth
	GroupFieldWeekOfYear
)

func (f GroupField) String() string {
	switch f {
	case GroupFieldYear:
		return "year"
	case GroupFieldMonth:
		return "month"
	case GroupFieldDayOfMonth:
		return "dayOfMonth"
	case GroupFieldWeekOfYear:
		return "weekOfYear"
	}
	return fmt.Sprintf("GroupField(%d)", int(f))
}

// Column is the result alias the store uses for the field.
func (f GroupField) Column() string {
	switch f {
	case GroupFieldYear:
		return "bucket_year"
	case GroupFieldMonth:
		return "bucket_month"
	case GroupFieldDayOfMonth:
		return "bucket_day"
	case GroupFieldWeekOfYear:
		return "bucket_week"
	}
	panic(fmt.Sprintf("unknown group field %d", int(f)))
}

// GroupKey is a Gregorian bucket as returned by the store. Week is the
// Sunday-based week of year (0..53); fields unused by the mode are 0.
type GroupKey struct {
	Year  int
	Month int
	Day   int
	Week  int
}

func (k GroupKey) String() string {
	switch {
	case k.Day != 0:
		return fmt.Sprintf("%04d-%02d-%02d", k.Year, k.Month, k.Day)
	case k.Month != 0:
		return fmt.Sprintf("%04d-%02d", k.Year, k.Month)
	}
	return fmt.Sprintf("%04d-W%02d", k.Year, k.Week)
}

// GroupKeyFields returns the fields created_at is truncated to for mode.
func GroupKeyFields(mode TimeMode) []GroupField {
	switch mode {
	case TimeModeDaily:
		return []GroupField{GroupFieldYear, GroupFieldMonth, GroupFieldDayOfMonth}
	case TimeModeWeekly:
		return []GroupField{GroupFieldYear, GroupFieldWeekOfYear}
	case TimeModeMonthly:
		return []GroupField{GroupFieldYear, GroupFieldMonth}
	}
	panic(fmt.Sprintf("unknown time mode %d", int(mode)))
}

// CalendarFields converts a Gregorian group key into the Jalali "date" and
// mirrored "gregorianDate" fields of a summary.
//
// Weekly buckets are labelled by the Jalali year and Jalali week of the
// bucket's representative date (jalali.WeekStart), so the live and the
// stored paths agree on the label.
func CalendarFields(mode TimeMode, key GroupKey) (JalaliDateFields, GregorianDateFields, error) {
	switch mode {
	case TimeModeDaily:
		j, err := jalali.FromGregorian(key.Year, key.Month, key.Day)
		if err != nil {
			return JalaliDateFields{}, GregorianDateFields{}, err
		}
		week, err := jalali.WeekNumber(j.Year, j.Month, j.Day)
		if err != nil {
			return JalaliDateFields{}, GregorianDateFields{}, err
		}
		return JalaliDateFields{Year: j.Year, Month: j.Month, Day: j.Day, Week: week},
			GregorianDateFields{Year: key.Year, Month: key.Month, Day: key.Day},
			nil

	case TimeModeWeekly:
		start, err := jalali.WeekStart(key.Year, key.Week)
		if err != nil {
			return JalaliDateFields{}, GregorianDateFields{}, err
		}
		j, err := jalali.FromTime(start)
		if err != nil {
			return JalaliDateFields{}, GregorianDateFields{}, err
		}
		week, err := jalali.WeekNumber(j.Year, j.Month, j.Day)
		if err != nil {
			return JalaliDateFields{}, GregorianDateFields{}, err
		}
		return JalaliDateFields{Year: j.Year, Week: week},
			GregorianDateFields{Year: key.Year, Week: key.Week},
			nil

	case TimeModeMonthly:
		j, err := jalali.FromGregorian(key.Year, key.Month, 1)
		if err != nil {
			return JalaliDateFields{}, GregorianDateFields{}, err
		}
		return JalaliDateFields{Year: j.Year, Month: j.Month},
			GregorianDateFields{Year: key.Year, Month: key.Month},
			nil
	}
	return JalaliDateFields{}, GregorianDateFields{}, fmt.Errorf("unknown time mode %d", int(mode))
}

// DisplayKey renders the human facing label of a Jalali bucket.
func DisplayKey(mode TimeMode, date JalaliDateFields) (string, error) {
	switch mode {
	case TimeModeDaily:
		if err := jalali.Valid(date.Year, date.Month, date.Day); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d/%02d/%02d", date.Year, date.Month, date.Day), nil

	case TimeModeWeekly:
		if date.Week < 1 || date.Week > 53 {
			return "", &utils.InvalidDateError{
				Calendar: "jalali",
				Year:     date.Year,
				Reason:   fmt.Sprintf("week %d must be between 1 and 53", date.Week),
			}
		}
		return fmt.Sprintf("%d هفته %d", date.Year, date.Week), nil

	case TimeModeMonthly:
		name, err := jalali.MonthName(date.Month)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %s", date.Year, name), nil
	}
	return "", fmt.Errorf("unknown time mode %d", int(mode))
}

// CompareDateFields orders buckets chronologically on their numeric fields.
func CompareDateFields(a, b JalaliDateFields) int {
	if c := cmp.Compare(a.Year, b.Year); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Month, b.Month); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Day, b.Day); c != 0 {
		return c
	}
	return cmp.Compare(a.Week, b.Week)
}
