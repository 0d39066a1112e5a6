package utils

import (
	"errors"
	"fmt"
)

// InvalidDateError reports a calendar field combination outside the domain of
// the calendar it was interpreted in (day 0, month 13, year out of range...).
type InvalidDateError struct {
	Calendar string // "gregorian" or "jalali"
	Year     int
	Month    int
	Day      int
	Reason   string
}

func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("invalid %s date %04d/%02d/%02d: %s", e.Calendar, e.Year, e.Month, e.Day, e.Reason)
}

// InvalidArgumentError is a malformed query parameter. Request scoped.
type InvalidArgumentError struct {
	Param  string
	Value  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Param, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Param, e.Value, e.Reason)
}

// StoreUnavailableError wraps a connectivity or durability failure of the
// backing store. It is fatal to the operation that hit it.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

func IsInvalidDate(err error) bool {
	var target *InvalidDateError
	return errors.As(err, &target)
}

func IsInvalidArgument(err error) bool {
	var target *InvalidArgumentError
	return errors.As(err, &target)
}

func IsStoreUnavailable(err error) bool {
	var target *StoreUnavailableError
	return errors.As(err, &target)
}
