// Package template implements the per-(session, ODID) TemplateStore:
// versioned template caching with protocol-aware refresh/withdrawal
// semantics, per-version lifetimes, and snapshot publication (spec.md §3,
// §4.2).
//
// Grounded on the teacher's flat template_cache.go (a simple
// map[TemplateKey]*Template with no history) generalized into the versioned
// chain design spec.md requires, and on
// original_source/src/templater/templater.c and tmpl_algorithms.c for the
// exact refresh/redefine/withdraw rules and on tmpl_template.c for the
// derived per-template fields (has_dynamic, has_multiple_defs,
// last_identical).
package template

import (
	"errors"
	"fmt"
	"time"

	"github.com/flowcol/flowcol/internal/element"
)

// Kind distinguishes a Template built from a Template Set from one built
// from an Options Template Set.
type Kind int

const (
	KindData Kind = iota
	KindOptions
)

// Protocol is the transport the owning Session was observed over, which
// governs the store's refresh/redefine/withdraw rules (spec.md §4.2).
// Per the spec's Open Questions, SCTP is treated identically to TCP/TLS for
// template lifecycle purposes.
type Protocol int

const (
	ProtocolUDP Protocol = iota
	ProtocolTCP
	ProtocolTLS
	ProtocolSCTP
	ProtocolFile
)

// reliable reports whether the protocol carries explicit withdrawal and
// rejects incompatible redefinitions of a live template, as opposed to UDP's
// accept-and-retire-previous behavior.
func (p Protocol) reliable() bool {
	return p != ProtocolUDP
}

// Field is one entry of a Template's ordered field list.
type Field struct {
	Element       element.Key
	Length        uint16 // wire length; 0xFFFF denotes variable-length
	LastIdentical bool   // preferred occurrence when (enterprise,id) repeats in one template
}

func (f Field) Variable() bool {
	return f.Length == 0xFFFF
}

// Template is immutable once parsed (spec.md §3 Template).
type Template struct {
	Id              uint16
	Kind            Kind
	ScopeFieldCount int
	Fields          []Field

	// MinRecordLength is the smallest possible data-record length this
	// template can produce: the sum of fixed field lengths plus one byte per
	// variable-length field (the minimum variable-length encoding).
	MinRecordLength int
	HasDynamic      bool
	HasMultipleDefs bool
}

var (
	ErrInvalidTemplate = errors.New("template: invalid template definition")
)

// Parse validates and builds a Template from an ordered field list, applying
// the multi-definition resolution rule (spec.md §4.2): within one template,
// when the same (enterprise, id) appears multiple times, the last occurrence
// is flagged LastIdentical and preferred by column resolution.
func Parse(id uint16, kind Kind, scopeFieldCount int, fields []Field) (*Template, error) {
	if id < 256 {
		return nil, fmt.Errorf("%w: template id %d must be >= 256", ErrInvalidTemplate, id)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: template %d has no fields", ErrInvalidTemplate, id)
	}
	if kind == KindOptions && scopeFieldCount < 1 {
		return nil, fmt.Errorf("%w: options template %d must have scope field count >= 1", ErrInvalidTemplate, id)
	}
	if kind == KindOptions && scopeFieldCount > len(fields) {
		return nil, fmt.Errorf("%w: options template %d scope field count %d exceeds %d fields",
			ErrInvalidTemplate, id, scopeFieldCount, len(fields))
	}

	seen := make(map[element.Key]int, len(fields)) // last index seen at, for last_identical
	hasMultipleDefs := false
	minLen := 0
	hasDynamic := false

	for i, f := range fields {
		if prev, ok := seen[f.Element]; ok {
			hasMultipleDefs = true
			fields[prev].LastIdentical = false
		}
		seen[f.Element] = i
		fields[i].LastIdentical = true

		if f.Variable() {
			hasDynamic = true
			minLen++ // shortest possible variable-length encoding is a 1-byte length prefix of 0
		} else {
			minLen += int(f.Length)
		}
	}

	t := &Template{
		Id:              id,
		Kind:            kind,
		ScopeFieldCount: scopeFieldCount,
		Fields:          fields,
		MinRecordLength: minLen,
		HasDynamic:      hasDynamic,
		HasMultipleDefs: hasMultipleDefs,
	}
	if t.MinRecordLength == 0 {
		return nil, fmt.Errorf("%w: template %d computed a zero-length data record", ErrInvalidTemplate, id)
	}
	return t, nil
}

// Equal reports whether two templates declare an identical field list (used
// to distinguish a refresh from a redefinition).
func (t *Template) Equal(o *Template) bool {
	if t.Kind != o.Kind || t.ScopeFieldCount != o.ScopeFieldCount || len(t.Fields) != len(o.Fields) {
		return false
	}
	for i := range t.Fields {
		if t.Fields[i].Element != o.Fields[i].Element || t.Fields[i].Length != o.Fields[i].Length {
			return false
		}
	}
	return true
}

// Version is a (template, lifetime) pair chained to older versions of the
// same template id (spec.md §3 TemplateVersion).
type Version struct {
	Template    *Template
	FirstSeen   time.Time
	LastRefresh time.Time
	End         time.Time // zero means still live
	PacketStamp uint64

	prev *Version
}

func (v *Version) Live() bool {
	return v.End.IsZero()
}

// coversTime reports whether v was the in-force version at t: first <= t and
// (end == 0 or t < end).
func (v *Version) coversTime(t time.Time) bool {
	if t.Before(v.FirstSeen) {
		return false
	}
	if v.End.IsZero() {
		return true
	}
	return t.Before(v.End)
}
