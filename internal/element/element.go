// Package element holds the Element Manager: the process-wide, read-only
// registry of IPFIX Information Elements (and named Aliases over them) that
// the rest of the core treats as immutable reference data, per spec.md §3.
//
// Grounded on the teacher's InformationElement (information_element.go) and
// its CSV registry loader (csv.go, constants.go's go:embed pattern), trimmed
// to the fields DataTypeModel actually consumes (enterprise id, element id,
// wire type, variable-length flag, name) since this spec has no use for the
// teacher's semantics/status/revision/reference metadata.
package element

import (
	"embed"
	"fmt"

	"github.com/flowcol/flowcol/internal/coltype"
)

//go:embed iedb/ipfix-information-elements.csv
var iedb embed.FS

// Element is a field description: enterprise id, element id, IPFIX wire
// type, and whether the field is variable-length encoded on the wire.
// Elements are owned by a Manager and treated as immutable once loaded.
type Element struct {
	EnterpriseId uint32
	Id           uint16
	Name         string
	Type         coltype.IPFIXType
	Variable     bool
}

// Key identifies an Element within a Manager.
type Key struct {
	EnterpriseId uint32
	Id           uint16
}

func (e Element) Key() Key {
	return Key{EnterpriseId: e.EnterpriseId, Id: e.Id}
}

// Alias is a named disjunction of Elements with identical semantics; the
// Manager computes a single unified internal type over its sources at
// registration time (spec.md §3 Alias, §4.5 alias unification).
type Alias struct {
	Name    string
	Sources []Key

	unified coltype.Internal
}

// Unified returns the single internal type computed for this alias over all
// of its sources.
func (a Alias) Unified() coltype.Internal {
	return a.unified
}

// Manager is the Element Manager supplied to the core at init; it is
// immutable reference data once constructed via New, Default or LoadCSV.
type Manager struct {
	elements map[Key]Element
	byName   map[string]Key
	aliases  map[string]Alias
}

// New returns an empty Manager, useful for tests that only need a handful
// of synthetic elements.
func New() *Manager {
	return &Manager{
		elements: make(map[Key]Element),
		byName:   make(map[string]Key),
		aliases:  make(map[string]Alias),
	}
}

// Default loads the embedded IANA-subset registry shipped with this module.
// It panics on malformed embedded data, mirroring the teacher's
// MustReadCSV/constants.go init-time registry loading: a broken embed is a
// build-time defect, not a runtime condition callers should need to guard.
func Default() *Manager {
	f, err := iedb.Open("iedb/ipfix-information-elements.csv")
	if err != nil {
		panic(fmt.Errorf("element: failed to open embedded registry: %w", err))
	}
	defer f.Close()

	m := New()
	if err := m.LoadCSV(f); err != nil {
		panic(fmt.Errorf("element: failed to parse embedded registry: %w", err))
	}
	return m
}

// Add registers an Element, keyed by (enterprise id, element id) and by
// name. A later Add for the same key overwrites the earlier definition.
func (m *Manager) Add(e Element) {
	k := e.Key()
	m.elements[k] = e
	m.byName[e.Name] = k
}

// Get looks up an Element by enterprise id and element id.
func (m *Manager) Get(enterpriseId uint32, id uint16) (Element, bool) {
	e, ok := m.elements[Key{EnterpriseId: enterpriseId, Id: id}]
	return e, ok
}

// GetByName looks up an Element by its registry name.
func (m *Manager) GetByName(name string) (Element, bool) {
	k, ok := m.byName[name]
	if !ok {
		return Element{}, false
	}
	return m.elements[k], true
}

// AddAlias registers a named alias over one or more existing Elements,
// computing and caching its unified internal type. It returns an error if
// any source is unknown or the sources' types cannot be unified.
func (m *Manager) AddAlias(name string, sources ...Key) error {
	if len(sources) == 0 {
		return fmt.Errorf("alias %q has no sources", name)
	}

	var unified coltype.Internal
	for i, k := range sources {
		e, ok := m.elements[k]
		if !ok {
			return fmt.Errorf("alias %q: unknown source element (%d, %d)", name, k.EnterpriseId, k.Id)
		}
		t, err := coltype.FromIPFIX(e.Type)
		if err != nil {
			return fmt.Errorf("alias %q: %w", name, err)
		}
		if i == 0 {
			unified = t
			continue
		}
		unified, err = coltype.Unify(unified, t)
		if err != nil {
			return fmt.Errorf("alias %q: %w", name, err)
		}
	}

	m.aliases[name] = Alias{Name: name, Sources: sources, unified: unified}
	return nil
}

// GetAlias looks up a previously registered Alias by name.
func (m *Manager) GetAlias(name string) (Alias, bool) {
	a, ok := m.aliases[name]
	return a, ok
}
