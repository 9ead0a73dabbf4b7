package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ByteInternet/nginx-config-reloader/internal/daemon"
	"github.com/ByteInternet/nginx-config-reloader/internal/logging"
	"github.com/ByteInternet/nginx-config-reloader/internal/reconciler"
)

const (
	serviceName    = "Reloader"
	maxEventsWait  = 30 * time.Second
	defaultHistory = 20
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer listens on path, replacing a stale socket.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(serviceName, &service{daemon: d, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve accepts connections in the background until Close.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "admin clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops accepting, waits for open connections and removes the socket.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "a stale socket may confuse the next start"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) requestContext() (context.Context, *slog.Logger) {
	id := uuid.NewString()
	return logging.WithRequestID(s.ctx, id), s.logger.With(logging.String(logging.FieldCorrelationID, id))
}

func (s *service) Reload(req ReloadRequest, resp *ReloadResponse) error {
	ctx, log := s.requestContext()
	log.Debug("reload requested", logging.Bool("announce", req.Announce))
	resp.Attempt = attemptFromResult(s.daemon.Reload(ctx, req.Announce))
	return nil
}

func (s *service) Apply(_ ApplyRequest, resp *ApplyResponse) error {
	ctx, log := s.requestContext()
	log.Debug("apply requested")
	resp.Attempt = attemptFromResult(s.daemon.Apply(ctx))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status()
	resp.Running = status.Running
	resp.PID = status.PID
	resp.StartedAt = status.StartedAt
	resp.Applying = status.Applying
	resp.LatestEvent = status.LatestEvent
	resp.WatchDir = status.WatchDir
	resp.InstalledDir = status.InstalledDir
	resp.MarkerPath = status.MarkerPath
	resp.MarkerText = status.MarkerText
	resp.LockPath = status.LockPath
	resp.HistoryPath = status.HistoryPath
	resp.RemoteEnabled = status.RemoteEnabled
	resp.RemoteConnected = status.RemoteConnected
	resp.MetricsListen = status.MetricsListen
	if status.Last != nil {
		last := attemptFromResult(*status.Last)
		resp.Last = &last
	}
	return nil
}

func (s *service) Events(req EventsRequest, resp *EventsResponse) error {
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait > maxEventsWait {
		wait = maxEventsWait
	}
	ctx := s.ctx
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait)
		defer cancel()
	}
	evts, next, err := s.daemon.Events(ctx, req.Since, req.Limit, wait > 0)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}
	resp.Events = evts
	resp.Next = next
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistory
	}
	entries, err := s.daemon.History(s.ctx, limit, reconciler.Outcome(req.Outcome))
	if err != nil {
		return err
	}
	resp.Attempts = make([]Attempt, 0, len(entries))
	for _, entry := range entries {
		resp.Attempts = append(resp.Attempts, attemptFromEntry(entry))
	}
	counts, err := s.daemon.HistoryCounts(s.ctx)
	if err != nil {
		return err
	}
	resp.Counts = make(map[string]int, len(counts))
	for outcome, n := range counts {
		resp.Counts[string(outcome)] = n
	}
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Info("daemon stop requested via IPC", logging.String(logging.FieldEventType, "daemon_stop"))
	go s.daemon.Stop()
	resp.Stopped = true
	return nil
}
