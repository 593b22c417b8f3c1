package models

import (
	"testing"
	"time"
)

func TestEffectiveUnitStatus(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	future := now.AddDate(1, 0, 0)
	past := now.AddDate(-1, 0, 0)

	cases := []struct {
		name   string
		stored UnitStatus
		expiry time.Time
		want   UnitStatus
	}{
		{"fresh in-stock", UnitStatusInStock, future, UnitStatusInStock},
		{"expired in-stock", UnitStatusInStock, past, UnitStatusExpired},
		{"expired shipped", UnitStatusShipped, past, UnitStatusExpired},
		{"sold stays sold past expiry", UnitStatusSold, past, UnitStatusSold},
		{"recalled stays recalled past expiry", UnitStatusRecalled, past, UnitStatusRecalled},
		{"delivered before expiry", UnitStatusDelivered, future, UnitStatusDelivered},
	}
	for _, tc := range cases {
		if got := EffectiveUnitStatus(tc.stored, tc.expiry, now); got != tc.want {
			t.Errorf("%s: EffectiveUnitStatus = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestAggregateBatchStatus(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	future := now.AddDate(1, 0, 0)
	past := now.AddDate(-1, 0, 0)

	cases := []struct {
		name   string
		counts map[UnitStatus]int64
		expiry time.Time
		want   UnitStatus
	}{
		{"no units", map[UnitStatus]int64{}, future, UnitStatusInStock},
		{"all recalled", map[UnitStatus]int64{UnitStatusRecalled: 3}, future, UnitStatusRecalled},
		{"all sold", map[UnitStatus]int64{UnitStatusSold: 4}, future, UnitStatusSold},
		{"sold plus recalled exhausts batch", map[UnitStatus]int64{UnitStatusSold: 2, UnitStatusRecalled: 2}, future, UnitStatusSold},
		{"terminal wins over expiry", map[UnitStatus]int64{UnitStatusRecalled: 3}, past, UnitStatusRecalled},
		{"live units past expiry", map[UnitStatus]int64{UnitStatusInStock: 2, UnitStatusSold: 1}, past, UnitStatusExpired},
		{"any shipped", map[UnitStatus]int64{UnitStatusInStock: 5, UnitStatusShipped: 1}, future, UnitStatusShipped},
		{"plain in-stock", map[UnitStatus]int64{UnitStatusInStock: 5, UnitStatusSold: 1}, future, UnitStatusInStock},
	}
	for _, tc := range cases {
		if got := AggregateBatchStatus(tc.counts, tc.expiry, now); got != tc.want {
			t.Errorf("%s: AggregateBatchStatus = %q, want %q", tc.name, got, tc.want)
		}
	}
}
