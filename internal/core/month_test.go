package core

import "testing"

func TestParseMonthID(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"2025-01", true},
		{"2025-12", true},
		{"1999-06", true},
		{"2025-13", false},
		{"2025-00", false},
		{"2025-1", false},
		{"202501", false},
		{"", false},
		{"abcd-ef", false},
	}
	for _, tc := range cases {
		_, err := ParseMonthID(tc.in)
		if tc.ok && err != nil {
			t.Errorf("%q: unexpected error %v", tc.in, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%q: expected error", tc.in)
		}
	}
}

func TestMonthIDNextPrev(t *testing.T) {
	if got := MonthID("2025-01").Next(); got != "2025-02" {
		t.Errorf("Next = %s", got)
	}
	if got := MonthID("2025-12").Next(); got != "2026-01" {
		t.Errorf("Next across year = %s", got)
	}
	if got := MonthID("2025-01").Prev(); got != "2024-12" {
		t.Errorf("Prev across year = %s", got)
	}
}

func TestMonthsBetween(t *testing.T) {
	cases := []struct {
		a, b MonthID
		want int
	}{
		{"2025-01", "2025-01", 0},
		{"2025-01", "2025-04", 3},
		{"2024-11", "2025-02", 3},
		{"2025-04", "2025-01", -3},
		{"2025-01", "2024-12", -1},
	}
	for _, tc := range cases {
		if got := MonthsBetween(tc.a, tc.b); got != tc.want {
			t.Errorf("MonthsBetween(%s, %s) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestParseDecimalToCents(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"12.34", 1234, true},
		{"12,34", 1234, true},
		{"12.345", 1234, true},
		{"12.346", 1235, true},
		{"0", 0, true},
		{"150", 15000, true},
		{"-1", 0, false},
		{"+1", 0, false},
		{"1.2.3", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDecimalToCents(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("%q: got (%d, %v), want %d", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Errorf("%q: expected error", tc.in)
		}
	}
}

func TestMoneyString(t *testing.T) {
	if s := (Money{Cents: 15000}).String(); s != "150.00" {
		t.Errorf("got %s", s)
	}
	if s := (Money{Cents: -307}).String(); s != "-3.07" {
		t.Errorf("got %s", s)
	}
}
