package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"budgetsync/internal/budget"
	"budgetsync/internal/model"
)

const (
	writeTimeout = 5 * time.Second
	// closeGrace bounds how long a close handshake may take before the
	// connection is dropped.
	closeGrace = time.Second
)

// Server broadcasts snapshots to connected websocket clients and applies
// their requests to the engine.
type Server struct {
	engine Engine
	logger budget.Logger
	clock  budget.Clock

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
	latest  []byte
}

// NewServer creates a Server for engine. Call Run to start broadcasting.
func NewServer(engine Engine, logger budget.Logger, clock budget.Clock) *Server {
	if logger == nil {
		logger = budget.NewNopLogger()
	}
	return &Server{
		engine:  engine,
		logger:  logger,
		clock:   clock,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the HTTP routes: /ws for the feed and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Run broadcasts engine snapshots until ctx is done, then disconnects all
// clients.
func (s *Server) Run(ctx context.Context) {
	defer s.closeAll()

	for snap := range s.engine.Watch(ctx) {
		data, err := encode(MessageTypeSnapshot, s.clock.Now(), NewSnapshotData(snap))
		if err != nil {
			s.logger.Error("encoding snapshot failed", "error", err)
			continue
		}

		s.mu.Lock()
		s.latest = data
		clients := make([]*websocket.Conn, 0, len(s.clients))
		for conn := range s.clients {
			clients = append(clients, conn)
		}
		s.mu.Unlock()

		for _, conn := range clients {
			if err := s.write(ctx, conn, data); err != nil {
				s.logger.Warn("sending snapshot failed", "error", err)
				s.removeClient(conn, websocket.StatusInternalError)
			}
		}
	}
}

// ListenAndServe serves the feed on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves the feed on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Run(runCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("feed listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		cancel()
		wg.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// Run is already disconnecting clients; stop accepting new ones meanwhile.
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	err := srv.Shutdown(shutdownCtx)
	wg.Wait()
	if err != nil {
		return fmt.Errorf("feed shutdown: %w", err)
	}
	s.logger.Info("feed stopped")
	return nil
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	latest := s.latest
	count := len(s.clients)
	s.mu.Unlock()
	s.logger.Debug("feed client connected", "clients", count)

	ctx := r.Context()
	if latest != nil {
		if err := s.write(ctx, conn, latest); err != nil {
			s.removeClient(conn, websocket.StatusInternalError)
			return
		}
	}
	s.readLoop(ctx, conn)
}

// readLoop applies client requests until the connection closes.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.removeClient(conn, websocket.StatusNormalClosure)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var req Request
		var res Result
		if err := json.Unmarshal(data, &req); err != nil {
			res = Result{Error: fmt.Sprintf("invalid request: %v", err)}
		} else {
			res = s.apply(ctx, &req)
		}

		msg, err := encode(MessageTypeResult, s.clock.Now(), res)
		if err != nil {
			s.logger.Error("encoding result failed", "error", err)
			continue
		}
		if err := s.write(ctx, conn, msg); err != nil {
			return
		}
	}
}

// apply runs one request against the engine.
func (s *Server) apply(ctx context.Context, req *Request) Result {
	res := Result{ID: req.ID}
	var err error

	switch req.Action {
	case ActionAddItem, ActionUpdateItem:
		if req.Item == nil {
			err = fmt.Errorf("%w: item required", budget.ErrInvalidInput)
			break
		}
		var it *model.LineItem
		if req.Action == ActionAddItem {
			it, err = s.engine.AddLineItem(ctx, req.Item.input())
		} else {
			it, err = s.engine.UpdateLineItem(ctx, req.ItemID, req.Item.input())
		}
		if err == nil {
			d := itemData(it)
			res.Item = &d
		}

	case ActionDeleteItem:
		err = s.engine.DeleteLineItem(ctx, req.ItemID)

	case ActionUpdateBudget:
		patch := make(model.Amounts, len(req.Fields))
		for name, v := range req.Fields {
			f, perr := model.ParseField(name)
			if perr != nil {
				err = fmt.Errorf("%w: %v", budget.ErrInvalidInput, perr)
				break
			}
			patch[f] = v
		}
		if err == nil {
			_, err = s.engine.UpdateBudget(ctx, patch)
		}

	case ActionSyncNow:
		err = s.engine.SyncNow(ctx)

	case ActionSwitchMonth:
		err = s.engine.SwitchMonth(req.Month)

	default:
		err = fmt.Errorf("unknown action %q", req.Action)
	}

	if err != nil {
		s.logger.Debug("feed request failed", "action", req.Action, "error", err)
		res.Error = err.Error()
		return res
	}
	res.OK = true
	return res
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) removeClient(conn *websocket.Conn, code websocket.StatusCode) {
	s.mu.Lock()
	_, ok := s.clients[conn]
	delete(s.clients, conn)
	count := len(s.clients)
	s.mu.Unlock()

	if ok {
		closeConn(conn, code, "")
		s.logger.Debug("feed client disconnected", "clients", count)
	}
}

// closeAll disconnects every client concurrently.
func (s *Server) closeAll() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	var wg sync.WaitGroup
	for conn := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			closeConn(conn, websocket.StatusGoingAway, "server shutting down")
		}()
	}
	wg.Wait()
}

// closeConn starts the close handshake and drops the connection if the peer
// has not answered within closeGrace.
func closeConn(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.Close(code, reason)
	}()

	select {
	case <-done:
	case <-time.After(closeGrace):
		_ = conn.CloseNow()
		<-done
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}
