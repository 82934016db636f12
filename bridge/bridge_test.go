package bridge

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	s := NewServer()
	called := false
	s.Handle("ping", func(ctx context.Context, req Envelope) (any, error) {
		called = true
		return "pong", nil
	})

	httpSrv := httptest.NewServer(s.Handler(context.Background()))
	defer httpSrv.Close()

	conn := dial(t, wsURL(httpSrv.URL))
	if err := conn.WriteJSON(Envelope{ID: "1", Type: "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp Envelope
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !called {
		t.Fatal("expected handler to be invoked")
	}
	if resp.Type != "ping" || resp.Payload != "pong" {
		t.Fatalf("resp = %+v, want type=ping payload=pong", resp)
	}
}

func TestDispatchUnknownTypeReturnsError(t *testing.T) {
	s := NewServer()

	httpSrv := httptest.NewServer(s.Handler(context.Background()))
	defer httpSrv.Close()

	conn := dial(t, wsURL(httpSrv.URL))
	if err := conn.WriteJSON(Envelope{ID: "1", Type: "does-not-exist"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp Envelope
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != TypeError {
		t.Fatalf("resp.Type = %q, want %q", resp.Type, TypeError)
	}
}

func TestInvokeCallsHandlerDirectlyWithoutASocket(t *testing.T) {
	s := NewServer()
	s.Handle("echo", func(ctx context.Context, req Envelope) (any, error) {
		return req.Payload, nil
	})

	result, err := s.Invoke(context.Background(), Envelope{Type: "echo", Payload: "hi"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result != "hi" {
		t.Fatalf("result = %v, want %q", result, "hi")
	}

	if _, err := s.Invoke(context.Background(), Envelope{Type: "missing"}); err == nil {
		t.Fatal("expected an error for an unregistered message type")
	}
}

func TestBroadcastActionReachesConnectedClient(t *testing.T) {
	s := NewServer()

	httpSrv := httptest.NewServer(s.Handler(context.Background()))
	defer httpSrv.Close()

	conn := dial(t, wsURL(httpSrv.URL))

	// Give the upgrade goroutine a moment to register the connection.
	time.Sleep(50 * time.Millisecond)
	s.BroadcastAction("CardInserted", map[string]string{"device": "r1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp Envelope
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != TypeActionApplied {
		t.Fatalf("resp.Type = %q, want %q", resp.Type, TypeActionApplied)
	}
}
