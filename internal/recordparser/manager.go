package recordparser

import "github.com/flowcol/flowcol/internal/template"

// sessionOdid identifies one (transport session, observation domain) scope,
// the same granularity internal/template.Store is keyed at.
type sessionOdid struct {
	session uint64
	odid    uint32
}

// Manager caches one RecordParser per (session, ODID, template id),
// rebuilding it whenever the template definition changes, grounded on
// original_source's RecParserManager (select_session/select_odid/
// delete_session/get_parser).
type Manager struct {
	sources     []Source
	autoignore  bool
	splitBiflow bool

	parsers map[sessionOdid]map[uint16]*RecordParser
}

// NewManager builds a Manager for a fixed column schema. splitBiflow mirrors
// config.Config.SplitBiflow (spec.md §6.1): when false, a biflow record
// always collapses to a single forward row regardless of autoignore.
func NewManager(sources []Source, autoignore, splitBiflow bool) *Manager {
	return &Manager{
		sources:     sources,
		autoignore:  autoignore,
		splitBiflow: splitBiflow,
		parsers:     make(map[sessionOdid]map[uint16]*RecordParser),
	}
}

// GetParser returns the RecordParser for tmpl's id within (session, odid),
// building or rebuilding it if none exists yet or the cached one was built
// from a different template definition (fds_template_cmp in the original).
func (m *Manager) GetParser(session uint64, odid uint32, tmpl *template.Template) (*RecordParser, error) {
	key := sessionOdid{session: session, odid: odid}
	byTemplate, ok := m.parsers[key]
	if !ok {
		byTemplate = make(map[uint16]*RecordParser)
		m.parsers[key] = byTemplate
	}

	if rp, ok := byTemplate[tmpl.Id]; ok && rp.Template().Equal(tmpl) {
		return rp, nil
	}

	rp, err := NewRecordParser(m.sources, tmpl, m.autoignore, m.splitBiflow)
	if err != nil {
		return nil, err
	}
	byTemplate[tmpl.Id] = rp
	return rp, nil
}

// DeleteSession discards all cached parsers for a session, e.g. on
// connection close.
func (m *Manager) DeleteSession(session uint64) {
	for key := range m.parsers {
		if key.session == session {
			delete(m.parsers, key)
		}
	}
}
