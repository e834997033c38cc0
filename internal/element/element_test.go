package element

import (
	"testing"

	"github.com/flowcol/flowcol/internal/coltype"
)

func TestDefaultRegistryHasCommonElements(t *testing.T) {
	m := Default()

	e, ok := m.Get(0, 1)
	if !ok {
		t.Fatal("expected octetDeltaCount (0,1) to be registered")
	}
	if e.Name != "octetDeltaCount" {
		t.Errorf("expected octetDeltaCount, got %s", e.Name)
	}
	if e.Type != coltype.IPFIXUnsigned64 {
		t.Errorf("expected unsigned64, got %v", e.Type)
	}
}

func TestAddAliasUnifiesSourceTypes(t *testing.T) {
	m := Default()

	err := m.AddAlias("sourceIPAddress",
		Key{EnterpriseId: 0, Id: 8},  // sourceIPv4Address
		Key{EnterpriseId: 0, Id: 27}, // sourceIPv6Address
	)
	if err != nil {
		t.Fatal(err)
	}

	a, ok := m.GetAlias("sourceIPAddress")
	if !ok {
		t.Fatal("expected alias to be registered")
	}
	if a.Unified() != coltype.IPv6 {
		t.Errorf("expected unified type IPv6 (v4-mapped), got %s", a.Unified())
	}
}

func TestAddAliasRejectsUnknownSource(t *testing.T) {
	m := New()
	err := m.AddAlias("bogus", Key{EnterpriseId: 0, Id: 9999})
	if err == nil {
		t.Fatal("expected error for unknown alias source")
	}
}
