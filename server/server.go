package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dicomnet/dicomnet/dimse"
	"github.com/dicomnet/dicomnet/index"
	"github.com/dicomnet/dicomnet/interfaces"
	"github.com/dicomnet/dicomnet/metrics"
	"github.com/dicomnet/dicomnet/pdu"
	"github.com/dicomnet/dicomnet/pipeline"
	"github.com/dicomnet/dicomnet/querycache"
	"github.com/dicomnet/dicomnet/session"
)

// Option configures a Server instance.
type Option func(*Server)

// WithLogger overrides the logger used by the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

// WithReadTimeout sets the read timeout for client connections.
func WithReadTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.ReadTimeout = timeout
	}
}

// WithWriteTimeout sets the write timeout for client connections.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.WriteTimeout = timeout
	}
}

// WithIndex overrides the index database backing C-FIND/worklist
// resolution and MPPS tracking. Defaults to an in-memory index.Store.
func WithIndex(store index.Store) Option {
	return func(s *Server) { s.Index = store }
}

// WithCache overrides the query cache fronting the index database for
// C-FIND. Defaults to a 1024-entry, 30-second-TTL cache.
func WithCache(cache *querycache.Cache) Option {
	return func(s *Server) { s.Cache = cache }
}

// WithMetrics overrides the metrics registry. Defaults to a fresh
// metrics.NewRegistry().
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Server) { s.Metrics = reg }
}

// WithIdleSweep enables the session registry's idle-association sweep,
// aborting and unregistering any session quiet for longer than maxIdle,
// checked every interval. Disabled by default.
func WithIdleSweep(interval, maxIdle time.Duration) Option {
	return func(s *Server) {
		s.sweepInterval = interval
		s.sweepMaxIdle = maxIdle
	}
}

// WithPipeline overrides the six-stage job coordinator every connection's
// DIMSE service routes its message handling and response sending through.
// Use this to size worker pools and backpressure policy from
// internal/config rather than pipeline.DefaultConfig. The caller owns
// calling dimse.RegisterPipelineHandlers on the coordinator beforehand;
// Serve still calls Start/Stop on it.
func WithPipeline(coordinator *pipeline.Coordinator) Option {
	return func(s *Server) { s.Pipeline = coordinator }
}

// Server exposes a reusable DICOM listener that wires the DIMSE and PDU
// layers together with the index database, query cache, metrics
// registry, and session registry that back them.
type Server struct {
	AETitle      string
	Handler      interfaces.ServiceHandler
	Logger       *slog.Logger
	ReadTimeout  time.Duration // Read deadline set on each connection at accept (zero: none)
	WriteTimeout time.Duration // Write deadline set on each connection at accept (zero: none)

	Index    index.Store
	Cache    *querycache.Cache
	Metrics  *metrics.Registry
	Sessions *session.Registry
	Pipeline *pipeline.Coordinator

	sweepInterval time.Duration
	sweepMaxIdle  time.Duration

	sessionSeq uint64
	seqMu      sync.Mutex
}

// New builds a Server with the provided AE title and handler, defaulting
// the index, cache, metrics, session registry, and pipeline coordinator
// if not overridden by an Option. A default coordinator is built with
// pipeline.DefaultConfig against the (possibly overridden) metrics
// registry and has dimse.RegisterPipelineHandlers already applied.
func New(aeTitle string, handler interfaces.ServiceHandler, opts ...Option) *Server {
	srv := &Server{
		AETitle:  aeTitle,
		Handler:  handler,
		Index:    index.NewMemoryStore(),
		Cache:    querycache.New(1024, 30*time.Second),
		Metrics:  metrics.NewRegistry(),
		Sessions: session.NewRegistry(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.Pipeline == nil {
		srv.Pipeline = pipeline.NewCoordinator(pipeline.DefaultConfig(), srv.Metrics, nil)
		dimse.RegisterPipelineHandlers(srv.Pipeline)
	}
	return srv
}

// ListenAndServe listens on the given address and serves until the context is done or an error occurs.
func ListenAndServe(ctx context.Context, address, aeTitle string, handler interfaces.ServiceHandler, opts ...Option) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	defer listener.Close()

	srv := New(aeTitle, handler, opts...)
	return srv.Serve(ctx, listener)
}

// ListenAndServeWith listens on address and serves using a Server built
// by the caller (e.g. with non-default Index/Cache/Metrics wiring from
// cmd/dicomserver), rather than one ListenAndServe would construct itself.
func ListenAndServeWith(ctx context.Context, address string, srv *Server) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	defer listener.Close()
	return srv.Serve(ctx, listener)
}

// Serve accepts connections from listener until ctx is cancelled or an unrecoverable error occurs.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if listener == nil {
		return errors.New("dicomserver: listener is required")
	}
	if s == nil {
		return errors.New("dicomserver: server is nil")
	}
	if s.Handler == nil {
		return errors.New("dicomserver: handler is required")
	}
	if s.AETitle == "" {
		return errors.New("dicomserver: AE title is required")
	}

	logger := s.logger()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	if s.sweepInterval > 0 {
		s.Sessions.StartSweep(s.sweepInterval, s.sweepMaxIdle)
		defer s.Sessions.Stop()
	}

	s.Pipeline.Start()
	defer s.Pipeline.Stop()

	logger.Info("DICOM server listening",
		"address", listener.Addr().String(),
		"ae_title", s.AETitle)

	var (
		wg       sync.WaitGroup
		serveErr error
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				logger.Warn("Accept timeout", "error", err)
				continue
			}
			serveErr = err
			break
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			s.handleConnection(ctx, c, logger)
		}(conn)
	}

	wg.Wait()

	if serveErr != nil {
		return serveErr
	}

	return ctx.Err()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, logger *slog.Logger) {
	logger.Info("Accepted DICOM connection",
		"remote_addr", conn.RemoteAddr())

	// Set timeouts if configured
	if s.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.ReadTimeout)); err != nil {
			logger.Warn("Failed to set read deadline", "error", err)
		}
	}
	if s.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout)); err != nil {
			logger.Warn("Failed to set write deadline", "error", err)
		}
	}

	sessID := s.nextSessionID()

	service := dimse.NewService(s.Handler, logger)
	service.AttachPipeline(s.Pipeline, sessID)
	adapter := &dimseHandlerAdapter{service: service}
	layer := pdu.NewLayer(conn, adapter, s.AETitle, logger)

	sessCtx := session.NewContext(sessID, s.AETitle, conn.RemoteAddr().String(), layer)
	layer.OnActivity = sessCtx.Touch
	s.Sessions.Register(sessCtx)
	s.Pipeline.NewSession(sessID)
	defer func() {
		s.Sessions.Unregister(sessID)
		s.Pipeline.CancelSession(sessID)
	}()

	if err := layer.HandleConnection(); err != nil && ctx.Err() == nil {
		logger.Warn("DIMSE connection ended",
			"error", err,
			"remote_addr", conn.RemoteAddr())
	} else {
		logger.Info("DIMSE connection closed",
			"remote_addr", conn.RemoteAddr())
	}
}

// nextSessionID hands out a monotonic per-process session id, matching
// the data model's "session id (u64, monotonic per process)" rule.
func (s *Server) nextSessionID() string {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.sessionSeq++
	return fmt.Sprintf("%d", s.sessionSeq)
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

type dimseHandlerAdapter struct {
	service *dimse.Service
}

func (a *dimseHandlerAdapter) HandleDIMSEMessage(presContextID byte, msgCtrlHeader byte, data []byte, layer *pdu.Layer) error {
	return a.service.HandleDIMSEMessage(presContextID, msgCtrlHeader, data, layer)
}
