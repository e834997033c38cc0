package commands

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/flowcol/flowcol/internal/block"
	"github.com/flowcol/flowcol/internal/chclient"
	"github.com/flowcol/flowcol/internal/config"
	"github.com/flowcol/flowcol/internal/decoder"
	"github.com/flowcol/flowcol/internal/element"
	"github.com/flowcol/flowcol/internal/inserter"
	"github.com/flowcol/flowcol/internal/nf9"
	"github.com/flowcol/flowcol/internal/pipeline"
	"github.com/flowcol/flowcol/internal/session"
	"github.com/flowcol/flowcol/internal/stats"
	"github.com/flowcol/flowcol/internal/template"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the flow collector, accepting IPFIX/NetFlow v9 and inserting into the configured store",
	RunE:  runServe,
}

// inboundEvent is one unit of work handed from a listener goroutine to the
// single producer goroutine that owns the Coordinator: either a decoded
// message to process, or (raw == nil) a Session's "close" marker, mirroring
// spec.md §3's "[session destruction] outlives in-flight messages by
// passing through the pipeline as a close marker" by carrying both kinds of
// event through the same ordered channel.
type inboundEvent struct {
	session pipeline.Session
	raw     []byte
	now     time.Time
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger(v.GetString("log-level"))

	configPath := v.GetString("config")
	if configPath == "" {
		return fmt.Errorf("serve: --config is required")
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	cfg, err := config.Load(data)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	em := element.Default()
	registerDemoAliases(em, log)

	columns, sources, err := pipeline.PrepareColumns(cfg.Columns, em)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	pool := block.NewPool(cfg.Blocks, pipeline.BlockColumns(columns), cfg.BlockInsertThreshold)

	endpoints := make([]chclient.Endpoint, len(cfg.Connection.Endpoints))
	for i, e := range cfg.Connection.Endpoints {
		endpoints[i] = chclient.Endpoint{Host: e.Host, Port: e.Port}
	}
	chOpts := chclient.Options{
		Endpoints: endpoints,
		User:      cfg.Connection.User,
		Password:  cfg.Connection.Password,
		Database:  cfg.Connection.Database,
	}
	newClient := func(workerID int) inserter.Client {
		return chclient.New(chOpts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	columnInfos := pipeline.ColumnInfos(columns)
	workers := make([]*inserter.Worker, cfg.InserterThreads)
	for i := range workers {
		w := inserter.NewWorker(i, log, cfg.Connection.Table, columnInfos, newClient, pool)
		w.Start(ctx)
		workers[i] = w
	}

	st := stats.New(log, pool)
	registerMetrics()

	coord := pipeline.New(log, cfg, columns, sources, pool, workers, st)
	registry := session.NewRegistry()

	events := make(chan inboundEvent, 64)
	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		for ev := range events {
			if ev.raw == nil {
				coord.CloseSession(ev.session.ID)
				continue
			}
			if err := coord.ProcessMessage(ev.session, ev.raw, ev.now); err != nil {
				log.Error(err, "failed to process message")
			}
		}
	}()

	var listenersWG sync.WaitGroup
	var acceptErr error

	if addr := v.GetString("tcp-listen"); addr != "" {
		if err := startTCPListener(ctx, &listenersWG, addr, registry, events, log); err != nil {
			acceptErr = err
		}
	}
	if addr := v.GetString("udp-listen"); addr != "" {
		if err := startUDPListener(ctx, &listenersWG, addr, registry, events, log); err != nil {
			acceptErr = err
		}
	}
	if addr := v.GetString("tls-listen"); addr != "" {
		certFile, keyFile := v.GetString("tls-cert"), v.GetString("tls-key")
		if err := startTLSListener(ctx, &listenersWG, addr, certFile, keyFile, registry, events, log); err != nil {
			acceptErr = err
		}
	}
	if acceptErr != nil {
		cancel()
		return acceptErr
	}

	go serveMetricsHTTP(ctx, v.GetString("metrics-listen"), log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	log.Info("flowcollector started")
	<-sigCh
	log.Info("shutdown signal received")

	cancel()
	listenersWG.Wait()
	close(events)
	<-producerDone
	coord.Stop()

	return nil
}

func newLogger(level string) logr.Logger {
	verbosity := 0
	if level == "debug" {
		verbosity = 1
	}
	return funcr.NewJSON(func(obj string) {
		fmt.Fprintln(os.Stdout, obj)
	}, funcr.Options{Verbosity: verbosity, LogTimestamp: true})
}

// registerDemoAliases registers the "sourceIPAddress" alias unifying the
// IPv4/IPv6 source address elements over the default registry, demonstrating
// spec.md §4.5's alias unification; alias configuration loading itself is
// out of scope (no XML config parsing here), so this stands in for an
// operator-authored alias set.
func registerDemoAliases(em *element.Manager, log logr.Logger) {
	v4, okV4 := em.GetByName("sourceIPv4Address")
	v6, okV6 := em.GetByName("sourceIPv6Address")
	if !okV4 || !okV6 {
		return
	}
	if err := em.AddAlias("sourceIPAddress", v4.Key(), v6.Key()); err != nil {
		log.Error(err, "failed to register demo alias")
	}
}

func registerMetrics() {
	prometheus.MustRegister(
		stats.RecordsProcessedTotal,
		stats.RecordsDroppedTotal,
		stats.RowsWrittenTotal,
		stats.BlockAvailQueueLength,
		stats.BlockFilledQueueLength,
	)
}

func serveMetricsHTTP(ctx context.Context, addr string, log logr.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error(err, "metrics server failed")
	}
}

func startTCPListener(ctx context.Context, wg *sync.WaitGroup, addr string, registry *session.Registry, events chan<- inboundEvent, log logr.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp listen %s: %w", addr, err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		ln.Close()
	}()

	log.Info("listening", "transport", "tcp", "addr", addr)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error(err, "tcp accept failed")
				continue
			}
			wg.Add(1)
			go func(conn net.Conn) {
				defer wg.Done()
				br := bufio.NewReader(conn)
				framing, err := decoder.Detect(br)
				if err != nil {
					log.Error(err, "failed to detect stream framing", "remote", conn.RemoteAddr())
					conn.Close()
					return
				}
				if framing == decoder.FramingTLS {
					log.Error(nil, "peer sent a TLS handshake on the plain tcp listener, closing", "remote", conn.RemoteAddr())
					conn.Close()
					return
				}
				var reader io.Reader = br
				if framing == decoder.FramingLZ4 {
					reader = decoder.WrapLZ4(br)
				}
				handleStream(conn, template.ProtocolTCP, reader, registry, events, log)
			}(conn)
		}
	}()
	return nil
}

func startTLSListener(ctx context.Context, wg *sync.WaitGroup, addr, certFile, keyFile string, registry *session.Registry, events chan<- inboundEvent, log logr.Logger) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("tls listen %s: %w", addr, err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		ln.Close()
	}()

	log.Info("listening", "transport", "tls", "addr", addr)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error(err, "tls accept failed")
				continue
			}
			wg.Add(1)
			go func(conn net.Conn) {
				defer wg.Done()
				tlsConn, err := decoder.Handshake(conn, tlsConfig)
				if err != nil {
					log.Error(err, "tls handshake failed", "remote", conn.RemoteAddr())
					conn.Close()
					return
				}
				handleStream(tlsConn, template.ProtocolTLS, tlsConn, registry, events, log)
			}(conn)
		}
	}()
	return nil
}

// handleStream drains one accepted connection into events until it closes,
// then enqueues its close marker, mirroring the teacher's tcp.go "one
// goroutine per accepted connection" model generalized to the Decoder
// abstraction.
func handleStream(conn net.Conn, protocol template.Protocol, reader io.Reader, registry *session.Registry, events chan<- inboundEvent, log logr.Logger) {
	defer conn.Close()
	sess := registry.Open(conn, protocol)
	defer func() {
		registry.Close(conn)
		events <- inboundEvent{session: sess.Pipeline(), now: time.Now()}
	}()

	dec := decoder.New(reader)
	for {
		msg, err := dec.Next()
		if err != nil {
			if err != io.EOF {
				log.Error(err, "stream decode failed", "remote", conn.RemoteAddr())
			}
			return
		}
		events <- inboundEvent{session: sess.Pipeline(), raw: msg, now: time.Now()}
	}
}

// startUDPListener reads one datagram at a time; each distinct source
// address gets its own Session (spec.md §3) and, if it turns out to be
// exporting NetFlow v9, its own stateful Converter per NetFlow v9 source id.
func startUDPListener(ctx context.Context, wg *sync.WaitGroup, addr string, registry *session.Registry, events chan<- inboundEvent, log logr.Logger) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("udp listen %s: %w", addr, err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		conn.Close()
	}()

	log.Info("listening", "transport", "udp", "addr", addr)
	wg.Add(1)
	go func() {
		defer wg.Done()

		type converterKey struct {
			session  uint64
			sourceID uint32
		}
		converters := make(map[converterKey]*nf9.Converter)
		buf := make([]byte, 65535)
		for {
			n, remoteAddr, err := conn.ReadFrom(buf)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error(err, "udp read failed")
				continue
			}
			if n < 2 {
				continue
			}
			payload := make([]byte, n)
			copy(payload, buf[:n])

			sess := registry.FromAddr(remoteAddr, conn.LocalAddr(), template.ProtocolUDP)
			now := time.Now()
			version := binary.BigEndian.Uint16(payload[:2])

			if version == nf9.Version {
				nfHdr, err := nf9.DecodeHeader(payload)
				if err != nil {
					log.Error(err, "netflow v9 conversion failed", "remote", remoteAddr)
					continue
				}
				key := converterKey{session: sess.ID(), sourceID: nfHdr.SourceId}
				conv, ok := converters[key]
				if !ok {
					conv = nf9.NewConverter()
					converters[key] = conv
				}
				msgs, err := conv.Convert(payload)
				if err != nil {
					log.Error(err, "netflow v9 conversion failed", "remote", remoteAddr)
					continue
				}
				for _, m := range msgs {
					events <- inboundEvent{session: sess.Pipeline(), raw: m, now: now}
				}
				continue
			}

			events <- inboundEvent{session: sess.Pipeline(), raw: payload, now: now}
		}
	}()
	return nil
}
