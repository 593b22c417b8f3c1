package models

import "testing"

func TestHolderRoleChain(t *testing.T) {
	cases := []struct {
		role     HolderRole
		wantNext HolderRole
		ok       bool
	}{
		{HolderRoleManufacturer, HolderRoleDistributor, true},
		{HolderRoleDistributor, HolderRoleWholesaler, true},
		{HolderRoleWholesaler, HolderRoleRetailer, true},
		{HolderRoleRetailer, HolderRolePharmacy, true},
		{HolderRolePharmacy, "", false},
		{HolderRoleConsumer, "", false},
		{HolderRoleInTransit, "", false},
	}
	for _, tc := range cases {
		next, ok := tc.role.NextInChain()
		if ok != tc.ok || next != tc.wantNext {
			t.Errorf("%s.NextInChain() = (%q, %v), want (%q, %v)", tc.role, next, ok, tc.wantNext, tc.ok)
		}
	}
}

func TestHolderRoleChainIndex(t *testing.T) {
	for i, role := range CanonicalChain {
		if got := role.ChainIndex(); got != i {
			t.Errorf("%s.ChainIndex() = %d, want %d", role, got, i)
		}
	}
	if got := HolderRoleInTransit.ChainIndex(); got >= 0 {
		t.Errorf("in-transit ChainIndex = %d, want negative", got)
	}
}

func TestUnitStatusTerminal(t *testing.T) {
	terminal := []UnitStatus{UnitStatusSold, UnitStatusRecalled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false", s)
		}
	}
	live := []UnitStatus{UnitStatusInStock, UnitStatusShipped, UnitStatusDelivered, UnitStatusExpired}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true", s)
		}
	}
}

func TestShortageSeverityRank(t *testing.T) {
	ordered := []ShortageSeverity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Rank() >= ordered[i].Rank() {
			t.Errorf("Rank(%s) = %d not below Rank(%s) = %d",
				ordered[i-1], ordered[i-1].Rank(), ordered[i], ordered[i].Rank())
		}
	}
}

func TestEnumScan(t *testing.T) {
	var role HolderRole
	if err := role.Scan([]byte("wholesaler")); err != nil || role != HolderRoleWholesaler {
		t.Errorf("Scan([]byte) = (%q, %v)", role, err)
	}

	var status UnitStatus
	if err := status.Scan("recalled"); err != nil || status != UnitStatusRecalled {
		t.Errorf("Scan(string) = (%q, %v)", status, err)
	}
	if err := status.Scan(42); err == nil {
		t.Error("Scan(int) accepted a non-string column")
	}

	if v, err := HolderRolePharmacy.Value(); err != nil || v != "pharmacy" {
		t.Errorf("Value() = (%v, %v)", v, err)
	}
}
