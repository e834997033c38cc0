// Package pipeline implements the single-threaded coordinator (the
// "producer" of spec.md §4.8/§5): per-(session, ODID) TemplateStore and
// RecordParser wiring, Block filling from decoded IPFIX messages, and
// flush/stats/worker-error polling once per processed message. Grounded on
// original_source/extra_plugins/output/clickhouse/src/plugin.cpp's Plugin
// class.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/flowcol/flowcol/internal/block"
	"github.com/flowcol/flowcol/internal/coltype"
	"github.com/flowcol/flowcol/internal/config"
	"github.com/flowcol/flowcol/internal/inserter"
	"github.com/flowcol/flowcol/internal/ipfixmsg"
	"github.com/flowcol/flowcol/internal/recordparser"
	"github.com/flowcol/flowcol/internal/template"
)

// ErrSCTPUnsupported is returned by ProcessMessage for a Session whose
// Protocol is SCTP, per spec.md §4.8 point 3 ("If protocol is SCTP,
// reject (not supported)").
var ErrSCTPUnsupported = errors.New("pipeline: SCTP transport is not supported")

// Session identifies the transport connection a message arrived on; it is
// the pipeline-facing counterpart of the acceptor's Connection/Session,
// trimmed to what the coordinator needs (spec.md §3 Session).
type Session struct {
	ID       uint64
	Protocol template.Protocol
}

type sessionOdidKey struct {
	session uint64
	odid    uint32
}

// Coordinator is the producer: it owns all template/record-parsing state
// and the current in-progress Block, processes decoded IPFIX messages one
// at a time, and periodically flushes, reports stats, and polls worker
// errors. Grounded on plugin.cpp's Plugin class and its process()/
// process_ipfix_msg()/process_session_msg()/stop() methods.
type Coordinator struct {
	log logr.Logger
	cfg config.Config

	columns []Column
	sources []recordparser.Source

	pool    *block.Pool
	workers []*inserter.Worker

	parsers        *recordparser.Manager
	templateStores map[sessionOdidKey]*template.Store
	packetCounts   map[sessionOdidKey]uint64

	currentBlock    *block.Block
	blockAcquiredAt time.Time

	stats Stats
}

// Stats is the narrow subset of *internal/stats.Stats the coordinator
// drives; kept as an interface here so pipeline doesn't need to import
// internal/stats's Prometheus registration side effects for its own tests.
type Stats interface {
	AddRecords(count uint64)
	AddRows(count uint64)
	AddDropped(count uint64)
	PrintThrottled(now time.Time)
}

// New constructs a Coordinator. workers is the already-started InserterPool
// whose CheckError is polled once per processed message.
func New(log logr.Logger, cfg config.Config, columns []Column, sources []recordparser.Source, pool *block.Pool, workers []*inserter.Worker, st Stats) *Coordinator {
	return &Coordinator{
		log:            log,
		cfg:            cfg,
		columns:        columns,
		sources:        sources,
		pool:           pool,
		workers:        workers,
		parsers:        recordparser.NewManager(sources, cfg.BiflowEmptyAutoignore, cfg.SplitBiflow),
		templateStores: make(map[sessionOdidKey]*template.Store),
		packetCounts:   make(map[sessionOdidKey]uint64),
		stats:          st,
	}
}

// CloseSession discards all per-(session, ODID) template and record-parser
// state for a closed connection, mirroring process_session_msg's handling
// of IPX_MSG_SESSION_CLOSE.
func (c *Coordinator) CloseSession(sessionID uint64) {
	c.parsers.DeleteSession(sessionID)
	for key := range c.templateStores {
		if key.session == sessionID {
			delete(c.templateStores, key)
			delete(c.packetCounts, key)
		}
	}
}

func (c *Coordinator) storeFor(session Session, odid uint32) *template.Store {
	key := sessionOdidKey{session: session.ID, odid: odid}
	s, ok := c.templateStores[key]
	if !ok {
		s = template.NewStore(session.Protocol)
		c.templateStores[key] = s
	}
	return s
}

// ProcessMessage decodes one already-framed IPFIX message (raw, exactly
// hdr.Length bytes as produced by internal/decoder.Decoder.Next or
// internal/nf9.Converter.Convert) and folds it into the coordinator's
// state, mirroring process_ipfix_msg. now is the wall-clock time this
// message is processed at, used for template lifetimes and flush timing.
func (c *Coordinator) ProcessMessage(session Session, raw []byte, now time.Time) error {
	if session.Protocol == template.ProtocolSCTP {
		return ErrSCTPUnsupported
	}

	hdr, err := ipfixmsg.DecodeHeader(raw)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	body := raw[ipfixmsg.HeaderLength:hdr.Length]

	key := sessionOdidKey{session: session.ID, odid: hdr.ObservationDomainId}
	c.packetCounts[key]++
	store := c.storeFor(session, hdr.ObservationDomainId)
	store.ObserveTime(now, c.packetCounts[key])

	c.acquireBlock(now)

	var recordCount, rowCount uint64
	off := 0
	for off+ipfixmsg.SetHeaderLength <= len(body) {
		sh, err := ipfixmsg.DecodeSetHeader(body[off:])
		if err != nil {
			c.log.Error(err, "malformed set header, abandoning rest of message")
			break
		}
		setEnd := off + int(sh.Length)
		if sh.Length < ipfixmsg.SetHeaderLength || setEnd > len(body) {
			c.log.Error(fmt.Errorf("set %d has invalid length %d", sh.Id, sh.Length), "abandoning rest of message")
			break
		}
		setBody := body[off+ipfixmsg.SetHeaderLength : setEnd]

		switch {
		case sh.Id == ipfixmsg.TemplateSetID:
			c.applyTemplateSet(store, setBody, template.KindData)
		case sh.Id == ipfixmsg.OptionsTemplateSetID:
			c.applyTemplateSet(store, setBody, template.KindOptions)
		case sh.Id >= ipfixmsg.MinDataSetID:
			n, rows, recordErr := c.processDataSet(session, hdr.ObservationDomainId, sh.Id, setBody, now)
			if recordErr != nil {
				c.log.Error(recordErr, "format error in data set, abandoning rest of set", "setId", sh.Id)
			}
			recordCount += n
			rowCount += rows
		}

		off = setEnd
	}

	if c.stats != nil {
		c.stats.AddRecords(recordCount)
		c.stats.AddRows(rowCount)
	}

	c.maybeFlush(now)

	if c.stats != nil {
		c.stats.PrintThrottled(now)
	}

	for _, w := range c.workers {
		if err := w.CheckError(); err != nil {
			return fmt.Errorf("pipeline: worker failed: %w", err)
		}
	}

	return nil
}

// acquireBlock ensures currentBlock is set, respecting nonblocking mode; if
// nonblocking and no Block is available it leaves currentBlock nil and the
// caller is expected to account dropped records itself via the data-set
// walk below finding no block (processDataSet checks for this). now stamps
// blockAcquiredAt, the reference point maybeFlush's max-delay timeout is
// measured from.
func (c *Coordinator) acquireBlock(now time.Time) {
	if c.currentBlock != nil {
		return
	}
	if c.cfg.Nonblocking {
		if b, ok := c.pool.Avail.TryGet(); ok {
			c.currentBlock = b
			c.blockAcquiredAt = now
		}
		return
	}
	c.currentBlock = c.pool.Avail.Get()
	c.blockAcquiredAt = now
}

// applyTemplateSet installs or withdraws each template record decoded from
// a Template Set or Options Template Set into store. store.Withdraw already
// ignores withdrawal markers on UDP, so no protocol check is needed here.
func (c *Coordinator) applyTemplateSet(store *template.Store, setBody []byte, kind template.Kind) {
	var decoded []template.Decoded
	var err error
	if kind == template.KindData {
		decoded, err = template.DecodeTemplateSet(setBody)
	} else {
		decoded, err = template.DecodeOptionsTemplateSet(setBody)
	}
	if err != nil {
		c.log.Error(err, "malformed template set, discarding")
		return
	}

	for _, d := range decoded {
		if d.Withdrawal {
			store.Withdraw(d.Id)
			continue
		}
		if _, err := store.UpsertTemplate(d.Id, d.Kind, d.ScopeFieldCount, d.Fields); err != nil {
			c.log.Error(err, "template redefinition rejected", "templateId", d.Id)
		}
	}
}

// processDataSet looks up the template the data set was built from and, if
// found and not an options template, parses each record, mirroring
// process_record/extract_values. Whenever no Block is available to receive
// a row - whether because currentBlock started nil (nonblocking pool
// exhaustion) or because appending filled it mid-set - that row is counted
// as dropped instead of written.
func (c *Coordinator) processDataSet(session Session, odid uint32, setID uint16, setBody []byte, now time.Time) (records, rows uint64, err error) {
	store := c.storeFor(session, odid)
	v, status := store.Lookup(setID)
	if status != template.LookupFound {
		return 0, 0, nil
	}
	tmpl := v.Template
	if tmpl.Kind == template.KindOptions {
		// Only "normal" data templates produce rows, per plugin.cpp's
		// process_record: an options-template data set is skipped entirely.
		return 0, 0, nil
	}

	parser, err := c.parsers.GetParser(session.ID, odid, tmpl)
	if err != nil {
		return 0, 0, err
	}

	var dropped uint64
	off := 0
	for off < len(setBody) {
		recLen, lenErr := recordLength(setBody[off:], tmpl)
		if lenErr != nil {
			err = lenErr
			break
		}
		if off+recLen > len(setBody) {
			err = fmt.Errorf("pipeline: data record overruns set (need %d, have %d)", off+recLen, len(setBody)-off)
			break
		}
		raw := setBody[off : off+recLen]
		off += recLen
		records++

		if parseErr := parser.ParseRecord(raw); parseErr != nil {
			c.log.Error(parseErr, "malformed data record, skipping")
			continue
		}

		if !parser.SkipForward() {
			if c.currentBlock == nil {
				dropped++
			} else {
				c.extractRow(parser, false, odid, now)
				rows++
				c.flushIfFull(now)
			}
		}
		if !parser.SkipReverse() {
			if c.currentBlock == nil {
				dropped++
			} else {
				c.extractRow(parser, true, odid, now)
				rows++
				c.flushIfFull(now)
			}
		}
	}

	if c.stats != nil && dropped > 0 {
		c.stats.AddDropped(dropped)
	}
	return records, rows, err
}

// flushIfFull moves a currentBlock that just reached capacity onto filled
// and tries to acquire a replacement, leaving currentBlock nil if none is
// available (nonblocking mode with an exhausted pool).
func (c *Coordinator) flushIfFull(now time.Time) {
	if c.currentBlock == nil || !c.currentBlock.Full() {
		return
	}
	c.pool.Filled.Put(c.currentBlock)
	c.currentBlock = nil
	c.acquireBlock(now)
}

// extractRow composes and appends one row from parser's currently-parsed
// record in the given direction, mirroring extract_values.
func (c *Coordinator) extractRow(parser *recordparser.RecordParser, rev bool, odid uint32, now time.Time) {
	values := make([]coltype.Value, len(c.columns))
	for i, col := range c.columns {
		if col.Source == SourceODID {
			values[i] = coltype.Value{Type: coltype.U32, U: uint64(odid)}
			continue
		}

		raw, ok := parser.Get(i, rev)
		if !ok {
			values[i] = coltype.NullValue(col.Type)
			continue
		}

		ipfixType, convErr := wireTypeFor(col.Type, len(raw))
		if convErr != nil {
			c.log.Error(convErr, "field conversion failed", "column", col.Name)
			values[i] = coltype.NullValue(col.Type)
			continue
		}
		v, err := coltype.Decode(raw, ipfixType, col.Type)
		if err != nil {
			c.log.Error(err, "field conversion failed", "column", col.Name)
			values[i] = coltype.NullValue(col.Type)
			continue
		}
		values[i] = widenIPv4ToV4MappedV6(v)
	}
	c.currentBlock.AppendRow(values, now)
}

// maybeFlush moves currentBlock onto filled once it is non-empty and
// either its row threshold or its max-delay timeout (measured from when the
// block was acquired) has been reached, mirroring process()'s flush check.
func (c *Coordinator) maybeFlush(now time.Time) {
	if c.currentBlock == nil || c.currentBlock.Rows() == 0 {
		return
	}
	threshReached := c.currentBlock.Rows() >= c.cfg.BlockInsertThreshold
	timeoutReached := now.Sub(c.blockAcquiredAt) >= c.cfg.BlockInsertMaxDelay()

	if threshReached || timeoutReached {
		c.pool.Filled.Put(c.currentBlock)
		c.currentBlock = nil
	}
}

// Stop flushes any in-progress Block, signals all workers to stop, wakes
// them with one stop-sentinel each, and waits for them to join, mirroring
// Plugin::stop. Any rows a worker fails to insert before its own stop
// timeout elapses are reported through its CheckError, not here.
func (c *Coordinator) Stop() {
	if c.currentBlock != nil && c.currentBlock.Rows() > 0 {
		c.pool.Filled.Put(c.currentBlock)
		c.currentBlock = nil
	}

	for _, w := range c.workers {
		w.RequestStop()
	}
	for range c.workers {
		c.pool.PutStop()
	}
	for _, w := range c.workers {
		w.Join()
	}
}
