// Package bridge exposes the reducer's action stream and the current
// model.AppState to outside consumers over a websocket connection, and
// optionally advertises the running daemon on the LAN via mDNS/zeroconf so
// companion UIs can find it without manual configuration.
//
// Grounded on the teacher's server/handler_registry.go (router-style
// message-type dispatch via HandlerFunc) and server/websocket.go (the
// broadcast-to-all-clients ClientManager), combined into one Server since
// the core has a single message surface rather than the teacher's
// device/client split.
package bridge

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"

	"github.com/tomkp/card-spy-core/model"
)

// Envelope is the one JSON message shape every websocket frame uses,
// downward (broadcasts) and upward (requests/responses alike).
type Envelope struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

const (
	TypeStateSnapshot = "state-snapshot"
	TypeActionApplied = "action-applied"
	TypeError         = "error"
)

// RequestHandler processes one inbound Envelope and returns the payload to
// send back (or an error, sent as a TypeError envelope).
type RequestHandler func(ctx context.Context, req Envelope) (any, error)

// Server is the upward bridge: an HTTP server exposing a /ws endpoint that
// broadcasts reducer actions/state snapshots and routes inbound requests
// (interrogate, executeCommand, selectHandler, selectApplication, clearLog,
// sendRawApdu) to registered handlers by message type.
type Server struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool

	handlersMu sync.RWMutex
	handlers   map[string]RequestHandler

	httpServer *http.Server
	mdns       *zeroconf.Server
}

// NewServer constructs a bridge ready to have request handlers registered
// and to be started.
func NewServer() *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[*websocket.Conn]bool),
		handlers: make(map[string]RequestHandler),
	}
}

// Handle registers the handler invoked for inbound envelopes of the given
// message type (e.g. "interrogate", "executeCommand", "sendRawApdu").
// Registering the same type twice replaces the previous handler.
func (s *Server) Handle(messageType string, handler RequestHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[messageType] = handler
}

// Invoke runs a registered handler directly, bypassing the websocket
// transport. Local callers in the same process (a REPL, a test) use this
// instead of dialing their own bridge.
func (s *Server) Invoke(ctx context.Context, req Envelope) (any, error) {
	s.handlersMu.RLock()
	h, ok := s.handlers[req.Type]
	s.handlersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("bridge: unknown message type %q", req.Type)
	}
	return h(ctx, req)
}

// Handler returns the bridge's /ws endpoint as an http.Handler, so it can
// be mounted directly (tests, or a daemon that also serves other routes)
// without going through ListenAndServe.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.handleWebSocket(ctx, w, r)
	})
	return mux
}

// ListenAndServe starts the HTTP server with the /ws endpoint on addr
// (e.g. ":8420") and blocks until it exits or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler(ctx)}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		_ = s.httpServer.Shutdown(context.Background())
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Stop shuts down the HTTP server and any active mDNS advertisement.
func (s *Server) Stop() {
	if s.mdns != nil {
		s.mdns.Shutdown()
		s.mdns = nil
	}
	if s.httpServer != nil {
		_ = s.httpServer.Shutdown(context.Background())
	}
}

// Advertise publishes this bridge as a `_cardspy._tcp` mDNS service on the
// given port, mirroring the teacher's own zeroconf-based phone-bridge
// discovery, so a companion UI can find a running daemon without the user
// typing in an address.
func (s *Server) Advertise(instance string, port int) error {
	server, err := zeroconf.Register(instance, "_cardspy._tcp", "local.", port, []string{"protocol=websocket", "path=/ws"}, nil)
	if err != nil {
		return fmt.Errorf("bridge: mDNS register: %w", err)
	}
	s.mdns = server
	log.Printf("[bridge] advertised %s on port %d", instance, port)
	return nil
}

func (s *Server) handleWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[bridge] upgrade error: %v", err)
		return
	}
	s.register(conn)
	defer s.unregister(conn)

	for {
		var req Envelope
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		s.dispatch(ctx, conn, req)
	}
}

func (s *Server) dispatch(ctx context.Context, conn *websocket.Conn, req Envelope) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Type]
	s.handlersMu.RUnlock()

	if !ok {
		s.send(conn, Envelope{ID: req.ID, Type: TypeError, Payload: fmt.Sprintf("unknown message type %q", req.Type)})
		return
	}

	payload, err := handler(ctx, req)
	if err != nil {
		s.send(conn, Envelope{ID: req.ID, Type: TypeError, Payload: err.Error()})
		return
	}
	s.send(conn, Envelope{ID: req.ID, Type: req.Type, Payload: payload})
}

func (s *Server) send(conn *websocket.Conn, env Envelope) {
	if err := conn.WriteJSON(env); err != nil {
		log.Printf("[bridge] write error: %v", err)
		s.unregister(conn)
		conn.Close()
	}
}

func (s *Server) register(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[conn] = true
}

func (s *Server) unregister(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, conn)
}

// BroadcastAction pushes one reducer action's effect to every connected
// client as a TypeActionApplied envelope, tagged with the action's Go type
// name so clients can discriminate without a custom marshaler per action.
func (s *Server) BroadcastAction(actionType string, payload any) {
	s.broadcast(Envelope{Type: TypeActionApplied, Payload: map[string]any{"action": actionType, "data": payload}})
}

// BroadcastState pushes a full state snapshot to every connected client.
func (s *Server) BroadcastState(state *model.AppState) {
	s.broadcast(Envelope{Type: TypeStateSnapshot, Payload: state})
}

func (s *Server) broadcast(env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteJSON(env); err != nil {
			log.Printf("[bridge] broadcast write error: %v", err)
			conn.Close()
			delete(s.clients, conn)
		}
	}
}
