package core

import (
	"fmt"
	"strconv"
	"strings"
)

// MonthID identifies a ledger period as a workspace-scoped "YYYY-MM" string.
// The zero value is invalid.
type MonthID string

// NewMonthID builds a MonthID from a year and a 1-based month.
func NewMonthID(year, month int) MonthID {
	return MonthID(fmt.Sprintf("%04d-%02d", year, month))
}

// ParseMonthID validates and returns a MonthID from its string form.
func ParseMonthID(s string) (MonthID, error) {
	id := MonthID(s)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate checks the "YYYY-MM" shape and month range.
func (id MonthID) Validate() error {
	parts := strings.Split(string(id), "-")
	if len(parts) != 2 || len(parts[0]) != 4 || len(parts[1]) != 2 {
		return &ValidationError{Field: "month", Reason: "expected YYYY-MM"}
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil || year < 1 {
		return &ValidationError{Field: "month", Reason: "invalid year"}
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 {
		return &ValidationError{Field: "month", Reason: "invalid month"}
	}
	return nil
}

// Year returns the calendar year.
func (id MonthID) Year() int {
	y, _ := strconv.Atoi(string(id)[:4])
	return y
}

// Month returns the 1-based calendar month.
func (id MonthID) Month() int {
	m, _ := strconv.Atoi(string(id)[5:7])
	return m
}

// Next returns the following calendar month, crossing year boundaries.
func (id MonthID) Next() MonthID {
	y, m := id.Year(), id.Month()
	m++
	if m > 12 {
		m = 1
		y++
	}
	return NewMonthID(y, m)
}

// Prev returns the preceding calendar month, crossing year boundaries.
func (id MonthID) Prev() MonthID {
	y, m := id.Year(), id.Month()
	m--
	if m < 1 {
		m = 12
		y--
	}
	return NewMonthID(y, m)
}

// MonthsBetween returns the number of whole months from a to b. The result is
// negative when b precedes a.
func MonthsBetween(a, b MonthID) int {
	return (b.Year()-a.Year())*12 + (b.Month() - a.Month())
}
