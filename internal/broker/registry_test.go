package broker

import (
	"strings"
	"testing"

	"market-broker/pkg/wire"
)

func TestMintID(t *testing.T) {
	t.Parallel()

	buyer := mintID(wire.RoleBuyer)
	if !strings.HasPrefix(buyer, "buyer-") {
		t.Errorf("mintID(buyer) = %q, want buyer- prefix", buyer)
	}
	seller := mintID(wire.RoleSeller)
	if !strings.HasPrefix(seller, "seller-") {
		t.Errorf("mintID(seller) = %q, want seller- prefix", seller)
	}
	if got := len(strings.TrimPrefix(buyer, "buyer-")); got != 8 {
		t.Errorf("suffix length = %d, want 8", got)
	}

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := mintID(wire.RoleBuyer)
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	buyer := &session{id: "buyer-00000001", role: wire.RoleBuyer}
	seller := &session{id: "seller-00000001", role: wire.RoleSeller}

	r.add(buyer)
	r.add(seller)

	if got := r.count(); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}
	if s, ok := r.get("buyer-00000001"); !ok || s != buyer {
		t.Errorf("get(buyer) = %v, %v", s, ok)
	}
	if got := len(r.byRole(wire.RoleBuyer)); got != 1 {
		t.Errorf("byRole(buyer) = %d sessions, want 1", got)
	}
	if got := len(r.all()); got != 2 {
		t.Errorf("all() = %d sessions, want 2", got)
	}

	if !r.remove("buyer-00000001") {
		t.Error("first remove = false, want true")
	}
	if r.remove("buyer-00000001") {
		t.Error("second remove = true, want false")
	}
	if got := r.count(); got != 1 {
		t.Errorf("count after remove = %d, want 1", got)
	}
}
