// Package inspector broadcasts Trace Recorder state transitions
// (spec.md §3's Idle→Recording→Completed|Aborted state machine) to
// connected websocket clients, for watching the JIT decide which loops
// go hot in real time. Grounded on the teacher's WebSocket server shape
// (internal/network/websocket.go's WebSocketServer/WebSocketConn),
// adapted from a generic message relay into a one-way event broadcast
// wrapping a trace.Sink instead of a NetworkModule connection registry.
package inspector

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sunscript/internal/sunlog"
	"sunscript/internal/trace"
	"sunscript/internal/value"
)

// Event is one state-transition notification sent to every connected
// client as JSON text.
type Event struct {
	Kind    string `json:"kind"` // "loop_start", "trace_start", "completed", "aborted"
	FuncID  uint32 `json:"func_id"`
	PC      int    `json:"pc,omitempty"`
	Reason  string `json:"reason,omitempty"`
	NumInsn int    `json:"num_instructions,omitempty"`
	At      string `json:"at"`
}

// Server upgrades incoming HTTP connections to websockets and fans out
// Events to all of them. It is itself a trace.Sink: install it in place
// of (or wrapping) a *trace.Recorder via vm.VM's sink field so every
// recorder transition is observed without the dispatcher knowing an
// inspector is attached.
type Server struct {
	inner    trace.Sink
	upgrader websocket.Upgrader
	log      *sunlog.Logger

	mu      sync.RWMutex
	clients map[string]*websocket.Conn
}

// Wrap returns a Server that forwards every trace.Sink call to inner
// (so recording behavior is unchanged) and additionally broadcasts the
// state-transition calls (OnLoopStart, OnTraceStart, Abort) to clients.
func Wrap(inner trace.Sink) *Server {
	return &Server{
		inner:   inner,
		log:     sunlog.Default(),
		clients: make(map[string]*websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler upgrades a connection and registers it for broadcasts until
// the client disconnects.
func (s *Server) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("inspector: upgrade: %v", err)
		return
	}
	id := fmt.Sprintf("inspector_%d", time.Now().UnixNano())

	s.mu.Lock()
	s.clients[id] = conn
	s.mu.Unlock()

	// Drain reads to completion so the connection's close is detected;
	// the inspector stream is one-way so anything a client sends is
	// discarded.
	go func() {
		defer s.disconnect(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) disconnect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn, ok := s.clients[id]; ok {
		conn.Close()
		delete(s.clients, id)
	}
}

func (s *Server) broadcast(ev Event) {
	ev.At = time.Now().UTC().Format(time.RFC3339Nano)
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Warnf("inspector: marshal event: %v", err)
		return
	}

	s.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	ids := make([]string, 0, len(s.clients))
	for id, c := range s.clients {
		conns = append(conns, c)
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for i, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.disconnect(ids[i])
		}
	}
}

// ListenAndServe starts an HTTP server exposing the inspector stream at
// path "/trace" on addr. It blocks until the server stops.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/trace", s.Handler)
	return http.ListenAndServe(addr, mux)
}

// trace.Sink implementation: state-transition calls are observed and
// broadcast, everything else delegates straight through to inner so
// recording semantics are unaffected by whether an inspector is
// attached.

func (s *Server) OnLoopStart(funcID uint32, pc int, locals []value.Value) trace.Trace {
	wasActive := s.inner.Active()
	t := s.inner.OnLoopStart(funcID, pc, locals)
	if !wasActive {
		s.broadcast(Event{Kind: "loop_start", FuncID: funcID, PC: pc})
	}
	if t.Completed() {
		s.broadcast(Event{Kind: "completed", FuncID: t.FuncID, PC: t.StartPC, NumInsn: len(t.Instructions)})
	} else if t.AbortReason != "" {
		s.broadcast(Event{Kind: "aborted", FuncID: t.FuncID, PC: t.StartPC, Reason: t.AbortReason})
	}
	return t
}

func (s *Server) OnTraceStart(funcID uint32, pc int, locals []value.Value) {
	s.inner.OnTraceStart(funcID, pc, locals)
	s.broadcast(Event{Kind: "trace_start", FuncID: funcID, PC: pc})
}

func (s *Server) Active() bool { return s.inner.Active() }

func (s *Server) RecordPushInt(v int64)  { s.inner.RecordPushInt(v) }
func (s *Server) RecordPushReal(v float64) { s.inner.RecordPushReal(v) }
func (s *Server) RecordPushLocal(local byte, v value.Value) {
	s.inner.RecordPushLocal(local, v)
}
func (s *Server) RecordSetLocal(local byte, v value.Value) {
	s.inner.RecordSetLocal(local, v)
}
func (s *Server) RecordArith(kind trace.ArithOp, left, right value.Value) {
	s.inner.RecordArith(kind, left, right)
}
func (s *Server) RecordCompare(left, right value.Value) {
	s.inner.RecordCompare(left, right)
}

// SetPC forwards to inner's SetPC when it has one, so wrapping a
// *trace.Recorder in a Server does not silently drop the dispatcher's
// optional per-step PC bookkeeping (internal/vm/dispatch.go).
func (s *Server) SetPC(pc int) {
	if setter, ok := s.inner.(interface{ SetPC(int) }); ok {
		setter.SetPC(pc)
	}
}

func (s *Server) Abort(reason string) {
	active := s.inner.Active()
	s.inner.Abort(reason)
	if active {
		s.broadcast(Event{Kind: "aborted", Reason: reason})
	}
}
