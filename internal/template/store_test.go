package template

import (
	"testing"
	"time"

	"github.com/flowcol/flowcol/internal/element"
)

func mustField(id uint16, length uint16) Field {
	return Field{Element: element.Key{EnterpriseId: 0, Id: id}, Length: length}
}

func TestUpsertTemplateIdenticalRedefinitionIsRefresh(t *testing.T) {
	s := NewStore(ProtocolTCP)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.ObserveTime(base, 1)

	fields := []Field{mustField(1, 8), mustField(2, 8)}
	changed, err := s.UpsertTemplate(256, KindData, 0, fields)
	if err != nil || !changed {
		t.Fatalf("initial upsert: changed=%v err=%v", changed, err)
	}

	s.ObserveTime(base.Add(time.Minute), 2)
	changed, err = s.UpsertTemplate(256, KindData, 0, []Field{mustField(1, 8), mustField(2, 8)})
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("identical redefinition should not report a version change")
	}

	v, status := s.Lookup(256)
	if status != LookupFound {
		t.Fatalf("expected found, got %v", status)
	}
	if !v.LastRefresh.Equal(base.Add(time.Minute)) {
		t.Error("expected last_refresh to advance on refresh")
	}
}

func TestUpsertTemplateRedefinitionRejectedOnTCP(t *testing.T) {
	s := NewStore(ProtocolTCP)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.ObserveTime(base, 1)

	if _, err := s.UpsertTemplate(256, KindData, 0, []Field{mustField(1, 8)}); err != nil {
		t.Fatal(err)
	}

	s.ObserveTime(base.Add(time.Minute), 2)
	_, err := s.UpsertTemplate(256, KindData, 0, []Field{mustField(1, 4)})
	if err == nil {
		t.Fatal("expected redefinition over a live TCP template to be rejected")
	}
}

func TestUpsertTemplateRedefinitionAcceptedOnUDP(t *testing.T) {
	s := NewStore(ProtocolUDP)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.ObserveTime(base, 1)

	if _, err := s.UpsertTemplate(256, KindData, 0, []Field{mustField(1, 8)}); err != nil {
		t.Fatal(err)
	}

	redefinedAt := base.Add(time.Minute)
	s.ObserveTime(redefinedAt, 2)
	changed, err := s.UpsertTemplate(256, KindData, 0, []Field{mustField(1, 4)})
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected UDP redefinition to be accepted as a version change")
	}

	// a lookup at a time before the redefinition should still resolve to the
	// predecessor version via the chain.
	s.ObserveTime(base.Add(30*time.Second), 2)
	v, status := s.Lookup(256)
	if status != LookupFound {
		t.Fatalf("expected found for historical lookup, got %v", status)
	}
	if v.Template.Fields[0].Length != 8 {
		t.Errorf("expected historical lookup to resolve the predecessor version, got length %d", v.Template.Fields[0].Length)
	}

	s.ObserveTime(redefinedAt, 2)
	v, status = s.Lookup(256)
	if status != LookupFound || v.Template.Fields[0].Length != 4 {
		t.Fatal("expected current lookup to resolve the new version")
	}
}

func TestWithdrawThenRedefineOnTCP(t *testing.T) {
	s := NewStore(ProtocolTCP)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.ObserveTime(base, 1)
	if _, err := s.UpsertTemplate(256, KindData, 0, []Field{mustField(1, 8)}); err != nil {
		t.Fatal(err)
	}

	s.ObserveTime(base.Add(time.Minute), 2)
	s.Withdraw(256)

	if _, status := s.Lookup(256); status != LookupNotFound {
		t.Fatalf("expected not found after withdrawal, got %v", status)
	}

	s.ObserveTime(base.Add(2*time.Minute), 3)
	changed, err := s.UpsertTemplate(256, KindData, 0, []Field{mustField(1, 4)})
	if err != nil || !changed {
		t.Fatalf("expected redefinition after withdrawal to be accepted: changed=%v err=%v", changed, err)
	}
}

func TestSnapshotOnlyRepublishesWhenModified(t *testing.T) {
	s := NewStore(ProtocolTCP)
	s.ObserveTime(time.Now(), 1)
	if _, err := s.UpsertTemplate(256, KindData, 0, []Field{mustField(1, 8)}); err != nil {
		t.Fatal(err)
	}

	snap1 := s.Snapshot()
	snap2 := s.Snapshot()
	if snap1 != snap2 {
		t.Error("expected Snapshot to return the same handle when unmodified")
	}

	s.ObserveTime(time.Now(), 2)
	if _, err := s.UpsertTemplate(257, KindData, 0, []Field{mustField(4, 1)}); err != nil {
		t.Fatal(err)
	}
	snap3 := s.Snapshot()
	if snap3 == snap1 {
		t.Error("expected a new snapshot after a modification")
	}
	if snap3.Get(256) == nil || snap3.Get(257) == nil {
		t.Error("expected new snapshot to contain both live templates")
	}
}

func TestCollectGarbageReclaimsExpiredVersions(t *testing.T) {
	s := NewStore(ProtocolTCP)
	s.SetLifetime(time.Minute)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.ObserveTime(base, 1)
	if _, err := s.UpsertTemplate(256, KindData, 0, []Field{mustField(1, 8)}); err != nil {
		t.Fatal(err)
	}
	s.Withdraw(256)

	s.CollectGarbage(base.Add(30 * time.Second))
	if _, ok := s.live[256]; !ok {
		t.Error("expected version within lifetime to survive garbage collection")
	}

	s.CollectGarbage(base.Add(2 * time.Minute))
	if _, ok := s.live[256]; ok {
		t.Error("expected version past its lifetime to be reclaimed")
	}
}
