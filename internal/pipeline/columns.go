package pipeline

import (
	"fmt"

	"github.com/flowcol/flowcol/internal/block"
	"github.com/flowcol/flowcol/internal/coltype"
	"github.com/flowcol/flowcol/internal/config"
	"github.com/flowcol/flowcol/internal/element"
	"github.com/flowcol/flowcol/internal/inserter"
	"github.com/flowcol/flowcol/internal/recordparser"
)

// Source names where a resolved Column's value is read from, mirroring
// plugin.cpp's prepare_columns dispatch over Config::Column's source
// variant (fds_iemgr_elem | fds_iemgr_alias | SpecialField).
type Source int

const (
	SourceElement Source = iota
	SourceAlias
	SourceODID
)

// Column is one output column resolved against the element Manager: its
// storage shape (Type, Nullable) and where RecordParser should read its
// value from.
type Column struct {
	Name     string
	Type     coltype.Internal
	Nullable bool
	Source   Source
}

// PrepareColumns resolves the configured column list against em, returning
// the resolved Columns (for the Block schema) and a parallel RecordParser
// Source list in the same order. Grounded on plugin.cpp's prepare_columns.
func PrepareColumns(cfgColumns []config.Column, em *element.Manager) ([]Column, []recordparser.Source, error) {
	columns := make([]Column, len(cfgColumns))
	sources := make([]recordparser.Source, len(cfgColumns))

	for i, cc := range cfgColumns {
		switch {
		case cc.Source.Element != "":
			e, ok := em.GetByName(cc.Source.Element)
			if !ok {
				return nil, nil, fmt.Errorf("pipeline: column %q: unknown element %q", cc.Name, cc.Source.Element)
			}
			t, err := coltype.FromIPFIX(e.Type)
			if err != nil {
				return nil, nil, fmt.Errorf("pipeline: column %q: %w", cc.Name, err)
			}
			columns[i] = Column{Name: cc.Name, Type: t, Nullable: cc.Nullable, Source: SourceElement}
			sources[i] = recordparser.DirectSource(e.Key())

		case cc.Source.Alias != "":
			a, ok := em.GetAlias(cc.Source.Alias)
			if !ok {
				return nil, nil, fmt.Errorf("pipeline: column %q: unknown alias %q", cc.Name, cc.Source.Alias)
			}
			columns[i] = Column{Name: cc.Name, Type: a.Unified(), Nullable: cc.Nullable, Source: SourceAlias}
			sources[i] = recordparser.AliasSource(a)

		case cc.Source.Special == "odid":
			columns[i] = Column{Name: cc.Name, Type: coltype.U32, Nullable: cc.Nullable, Source: SourceODID}
			sources[i] = recordparser.Source{}

		default:
			return nil, nil, fmt.Errorf("pipeline: column %q has no resolvable source", cc.Name)
		}
	}

	return columns, sources, nil
}

// BlockColumns projects the resolved Columns onto the shape block.NewPool
// needs.
func BlockColumns(columns []Column) []block.Column {
	out := make([]block.Column, len(columns))
	for i, c := range columns {
		out[i] = block.Column{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
	}
	return out
}

// ColumnInfos projects the resolved Columns onto the shape EnsureSchema
// compares against the remote store's DESCRIBE TABLE output.
func ColumnInfos(columns []Column) []inserter.ColumnInfo {
	out := make([]inserter.ColumnInfo, len(columns))
	for i, c := range columns {
		out[i] = inserter.ColumnInfo{Name: c.Name, Type: coltype.TargetType(c.Type, c.Nullable)}
	}
	return out
}
