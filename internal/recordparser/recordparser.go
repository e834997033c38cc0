// Package recordparser maps decoded IPFIX data records onto a fixed,
// externally configured column schema: for each column it resolves which
// template field (if any) carries that column's value, in both the forward
// and (for biflow templates) reverse direction, and applies the
// "skip empty reverse" autoignore heuristic. Grounded directly on
// original_source/extra_plugins/output/clickhouse/src/recparser.cpp
// (index_of_elem/index_of_alias/is_skip/RecParser/RecParserManager),
// translated from its fds_template/fds_drec_iter object model into index
// arrays over internal/template.Template's Fields slice and raw wire bytes.
package recordparser

import (
	"errors"
	"fmt"

	"github.com/flowcol/flowcol/internal/element"
	"github.com/flowcol/flowcol/internal/template"
)

// reverseEnterpriseId is the IANA-reserved enterprise number RFC 5103
// biflow export uses to carry the reverse-direction counterpart of a
// forward information element under the same element id.
const reverseEnterpriseId uint32 = 29305

const (
	octetDeltaCountId  uint16 = 1
	packetDeltaCountId uint16 = 2
)

// Source is a column's configured binding to one or more information
// elements: a direct column names exactly one element, an alias column
// (RecordParser's equivalent of index_of_alias) lists the alias's candidate
// source elements in preference order.
type Source struct {
	Keys []element.Key
}

// DirectSource builds a Source naming a single information element.
func DirectSource(k element.Key) Source {
	return Source{Keys: []element.Key{k}}
}

// AliasSource builds a Source from an alias's resolved candidate elements.
func AliasSource(a element.Alias) Source {
	keys := make([]element.Key, len(a.Sources))
	copy(keys, a.Sources)
	return Source{Keys: keys}
}

var ErrNoTemplate = errors.New("recordparser: template has no fields")

// RecordParser resolves one Template's field layout against a fixed column
// list, then extracts each data record's raw field bytes per column for
// both record directions.
type RecordParser struct {
	tmpl        *template.Template
	biflow      bool
	autoignore  bool
	splitBiflow bool

	mapping    []int // template field index -> column index, or -1
	mappingRev []int

	fieldsFwd [][]byte
	fieldsRev [][]byte

	skipFwd bool
	skipRev bool
}

// NewRecordParser builds a RecordParser for tmpl against the given ordered
// column sources. splitBiflow mirrors config.Config.SplitBiflow (spec.md
// §6.1): when false, ParseRecord never emits a reverse row for a biflow
// template, independent of the autoignore heuristic.
func NewRecordParser(sources []Source, tmpl *template.Template, autoignore, splitBiflow bool) (*RecordParser, error) {
	if tmpl == nil || len(tmpl.Fields) == 0 {
		return nil, ErrNoTemplate
	}

	biflow := false
	for _, f := range tmpl.Fields {
		if f.Element.EnterpriseId == reverseEnterpriseId {
			biflow = true
			break
		}
	}

	rp := &RecordParser{
		tmpl:        tmpl,
		biflow:      biflow,
		autoignore:  autoignore,
		splitBiflow: splitBiflow,
		mapping:     make([]int, len(tmpl.Fields)),
		mappingRev:  make([]int, len(tmpl.Fields)),
		fieldsFwd:   make([][]byte, len(sources)),
		fieldsRev:   make([][]byte, len(sources)),
	}
	for i := range rp.mapping {
		rp.mapping[i] = -1
		rp.mappingRev[i] = -1
	}

	for columnIdx, src := range sources {
		if fieldIdx := indexOfSource(tmpl, src, false); fieldIdx != -1 && rp.mapping[fieldIdx] == -1 {
			rp.mapping[fieldIdx] = columnIdx
		}
		if biflow {
			if fieldIdx := indexOfSource(tmpl, src, true); fieldIdx != -1 && rp.mappingRev[fieldIdx] == -1 {
				rp.mappingRev[fieldIdx] = columnIdx
			}
		}
	}

	return rp, nil
}

// indexOfSource returns the index into tmpl.Fields of the first (and, per
// Parse's LastIdentical rule, only visible) field matching one of src's
// candidate keys, in the given direction.
func indexOfSource(tmpl *template.Template, src Source, rev bool) int {
	for _, key := range src.Keys {
		for i, f := range tmpl.Fields {
			if !f.LastIdentical {
				continue
			}
			if rev {
				if f.Element.EnterpriseId == reverseEnterpriseId && f.Element.Id == key.Id {
					return i
				}
				continue
			}
			if f.Element == key {
				return i
			}
		}
	}
	return -1
}

// Template returns the Template this RecordParser was built for, used by
// Manager to detect a changed definition via Template.Equal.
func (rp *RecordParser) Template() *template.Template { return rp.tmpl }

// ParseRecord walks one data record's raw bytes according to the template's
// field layout, populating per-column raw field slices for both directions
// and the autoignore skip flags. raw must hold exactly one record; the
// caller (internal/pipeline) is responsible for locating record boundaries
// within a Data Set by walking the template's field lengths.
func (rp *RecordParser) ParseRecord(raw []byte) error {
	for i := range rp.fieldsFwd {
		rp.fieldsFwd[i] = nil
	}
	for i := range rp.fieldsRev {
		rp.fieldsRev[i] = nil
	}
	rp.skipFwd = false
	rp.skipRev = !rp.biflow || !rp.splitBiflow

	off := 0
	for i, f := range rp.tmpl.Fields {
		length := int(f.Length)
		if f.Variable() {
			n, lenSize, err := decodeVariableLength(raw[off:])
			if err != nil {
				return err
			}
			length = n
			off += lenSize
		}
		if off+length > len(raw) {
			return fmt.Errorf("recordparser: field %d overruns record (need %d, have %d)", i, off+length, len(raw)-off)
		}
		val := raw[off : off+length]
		off += length

		if rp.biflow && rp.autoignore {
			if isSkip(f.Element, val, false) {
				rp.skipFwd = true
			}
			if isSkip(f.Element, val, true) {
				rp.skipRev = true
			}
		}

		if ci := rp.mapping[i]; ci != -1 {
			rp.fieldsFwd[ci] = val
		}
		if ci := rp.mappingRev[i]; ci != -1 {
			rp.fieldsRev[ci] = val
		}
	}
	return nil
}

// isSkip reports whether a field carries a zero-valued octetDeltaCount or
// packetDeltaCount for the given direction, the signal the biflow
// autoignore heuristic uses to suppress an empty reverse (or forward) row
// (original_source's is_skip).
func isSkip(key element.Key, raw []byte, rev bool) bool {
	wantEnterprise := uint32(0)
	if rev {
		wantEnterprise = reverseEnterpriseId
	}
	if key.EnterpriseId != wantEnterprise {
		return false
	}
	if key.Id != octetDeltaCountId && key.Id != packetDeltaCountId {
		return false
	}
	for _, b := range raw {
		if b != 0 {
			return false
		}
	}
	return true
}

// decodeVariableLength reads an IPFIX variable-length field's length
// prefix (RFC 7011 §7): one byte if its value is below 255, else that byte
// followed by a 2-byte big-endian length.
func decodeVariableLength(b []byte) (length int, prefixSize int, err error) {
	if len(b) < 1 {
		return 0, 0, fmt.Errorf("recordparser: truncated variable-length prefix")
	}
	if b[0] < 255 {
		return int(b[0]), 1, nil
	}
	if len(b) < 3 {
		return 0, 0, fmt.Errorf("recordparser: truncated extended variable-length prefix")
	}
	return int(b[1])<<8 | int(b[2]), 3, nil
}

// Get returns the raw field bytes bound to column idx in the given
// direction, or ok=false if that column had no matching field in this
// record's template.
func (rp *RecordParser) Get(idx int, rev bool) (raw []byte, ok bool) {
	if rev {
		raw = rp.fieldsRev[idx]
	} else {
		raw = rp.fieldsFwd[idx]
	}
	return raw, raw != nil
}

// SkipForward reports whether the autoignore heuristic flagged the forward
// direction of the most recently parsed record as an empty biflow half.
func (rp *RecordParser) SkipForward() bool { return rp.skipFwd }

// SkipReverse reports the same for the reverse direction; it is always true
// for a non-biflow template, since there is no reverse row to emit.
func (rp *RecordParser) SkipReverse() bool { return rp.skipRev }
