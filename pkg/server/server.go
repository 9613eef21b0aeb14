package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/catherinesyeh/cs262-chat/pkg/auth"
	"github.com/catherinesyeh/cs262-chat/pkg/protocol"
	"github.com/catherinesyeh/cs262-chat/pkg/store"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// EnableDebugLogging turns on the debug logger (off by default).
func EnableDebugLogging(w io.Writer) {
	debugLog = log.New(w, "DEBUG: ", log.LstdFlags)
}

// Config is the server's runtime configuration.
type Config struct {
	TCPAddr          string
	HTTPAddr         string // WebSocket transport; empty disables
	MetricsAddr      string // /metrics and /health; empty disables
	DatabasePath     string // empty runs in-memory without snapshots
	SnapshotInterval time.Duration
	ServerHashCost   int
	PushTimeout      time.Duration
}

// Server accepts connections, runs one session loop per connection, and
// routes decoded requests against the shared store.
type Server struct {
	config  Config
	store   *store.Store
	creds   *auth.Manager
	metrics *Metrics
	reg     *prometheus.Registry

	// dummyHash equalizes login timing for unknown usernames.
	dummyHash []byte

	listener        net.Listener
	wsListener      net.Listener
	metricsListener net.Listener
	httpServers     []*http.Server
	nextSessionID   atomic.Uint64
	shutdown        chan struct{}
	shutdownOnce    sync.Once
	wg              sync.WaitGroup
}

// New creates a server. If cfg.DatabasePath is set, existing state is
// loaded from it and snapshots are written on cfg.SnapshotInterval.
func New(cfg Config) (*Server, error) {
	var st *store.Store
	if cfg.DatabasePath != "" {
		db, err := store.Open(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		interval := cfg.SnapshotInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		st, err = store.NewPersistentStore(db, interval)
		if err != nil {
			db.Close()
			return nil, err
		}
	} else {
		st = store.NewStore()
	}

	creds := auth.NewManager(cfg.ServerHashCost)

	// Pre-compute a credential to verify against when a login names an
	// unknown user, so both failure paths cost one bcrypt comparison.
	dummyPrefix, err := auth.NewPrefix(auth.DefaultClientCost)
	if err != nil {
		return nil, err
	}
	dummyPreHash, err := auth.DeriveHash("-", dummyPrefix)
	if err != nil {
		return nil, err
	}
	dummyCred, err := creds.CreateCredential(dummyPreHash)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	return &Server{
		config:    cfg,
		store:     st,
		creds:     creds,
		metrics:   NewMetrics(reg),
		reg:       reg,
		dummyHash: dummyCred.ServerHash,
		shutdown:  make(chan struct{}),
	}, nil
}

// Store exposes the underlying store (used by tests and tooling).
func (s *Server) Store() *store.Store {
	return s.store
}

// Start begins accepting connections. It returns once the listeners are
// bound; use Shutdown to stop.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.TCPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.TCPAddr, err)
	}
	s.listener = listener
	log.Printf("TCP listener on %s", listener.Addr())

	s.wg.Add(1)
	go s.acceptLoop()

	if s.config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
		})
		s.metricsListener, err = s.startHTTPServer(s.config.MetricsAddr, mux, "metrics")
		if err != nil {
			return err
		}
	}

	if s.config.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", s.handleWebSocket)
		s.wsListener, err = s.startHTTPServer(s.config.HTTPAddr, mux, "websocket")
		if err != nil {
			return err
		}
	}

	return nil
}

// startHTTPServer binds addr before returning so Start either reports a
// bind failure or leaves the port dialable.
func (s *Server) startHTTPServer(addr string, handler http.Handler, label string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: handler}
	s.httpServers = append(s.httpServers, srv)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("HTTP %s server on %s", label, ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Printf("HTTP %s server error: %v", label, err)
		}
	}()
	return ln, nil
}

// Addr returns the TCP listener address (useful when TCPAddr used port 0).
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// WSAddr returns the websocket listener address, or nil when disabled.
func (s *Server) WSAddr() net.Addr {
	if s.wsListener == nil {
		return nil
	}
	return s.wsListener.Addr()
}

// MetricsAddr returns the metrics listener address, or nil when disabled.
func (s *Server) MetricsAddr() net.Addr {
	if s.metricsListener == nil {
		return nil
	}
	return s.metricsListener.Addr()
}

// Shutdown closes the listeners and the store. In-flight sessions are
// cut by closing their connections' listener; each session releases its
// own registry entry on the way out.
func (s *Server) Shutdown() error {
	var storeErr error
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			s.listener.Close()
		}
		for _, srv := range s.httpServers {
			srv.Close()
		}
		storeErr = s.store.Close()
	})
	return storeErr
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				errorLog.Printf("Accept error: %v", err)
				continue
			}
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}
		go s.handleConnection(conn)
	}
}

// handleConnection runs the session loop: read one request, route it,
// write one response. A parse error drops the offending request and
// answers with a failure frame; an I/O error terminates this session
// only, releasing its registry entry.
func (s *Server) handleConnection(conn net.Conn) {
	sess := newSession(s.nextSessionID.Add(1), conn, s.config.PushTimeout)

	s.metrics.ConnectionsTotal.Inc()
	s.metrics.ActiveConnections.Inc()
	debugLog.Printf("Session %d: new connection from %s", sess.ID, sess.RemoteAddr)

	defer func() {
		if accountID, _ := sess.account(); accountID != 0 {
			s.store.UnregisterConnection(accountID, sess)
		}
		sess.Close()
		s.metrics.ActiveConnections.Dec()
		debugLog.Printf("Session %d: closed", sess.ID)
	}()

	for {
		first, err := sess.reader.ReadByte()
		if err != nil {
			if err == io.EOF {
				debugLog.Printf("Session %d: client disconnected", sess.ID)
			} else {
				debugLog.Printf("Session %d: read error: %v", sess.ID, err)
			}
			return
		}

		codec := sess.latchCodec(first)

		req, err := codec.DecodeRequest(first, sess.reader)
		if err != nil {
			var parseErr *protocol.ParseError
			if errors.As(err, &parseErr) {
				s.metrics.ParseErrors.Inc()
				debugLog.Printf("Session %d: parse error: %v", sess.ID, parseErr)
				failure := protocol.FailureResponse{Operation: parseErr.Op, Message: parseErr.Msg}
				if writeErr := sess.WriteResponse(failure); writeErr != nil {
					errorLog.Printf("Session %d: failed to write parse failure: %v", sess.ID, writeErr)
					return
				}
				continue
			}
			debugLog.Printf("Session %d: request read error: %v", sess.ID, err)
			return
		}

		debugLog.Printf("Session %d ← %s (%s)", sess.ID, req.Op(), codec.Name())
		s.metrics.RequestsTotal.WithLabelValues(req.Op().String(), codec.Name()).Inc()

		resp := s.route(sess, req)
		if failure, ok := resp.(protocol.FailureResponse); ok {
			s.metrics.RequestFailures.WithLabelValues(failure.Operation.String()).Inc()
		}
		if err := sess.WriteResponse(resp); err != nil {
			errorLog.Printf("Session %d: write error: %v", sess.ID, err)
			return
		}
	}
}
