package api

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/safesh/safesh/internal/confirm"
	"github.com/safesh/safesh/internal/executor"
	"github.com/safesh/safesh/internal/session"
	"github.com/safesh/safesh/pkg/types"
)

// wsInbound is any frame the client sends: a shell line or a confirmation
// decision for a previously announced request.
type wsInbound struct {
	Type string `json:"type"` // "input" | "confirm"

	Text string `json:"text,omitempty"`

	ID       string `json:"id,omitempty"`
	Approved bool   `json:"approved,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type wsResult struct {
	Type   string                `json:"type"` // "result"
	Result types.ExecutionResult `json:"result"`
}

type wsConfirmRequest struct {
	Type    string          `json:"type"` // "confirm_request"
	Request confirm.Request `json:"request"`
}

// shellWS runs an interactive shell over one websocket. Lines come in as
// text frames, results and confirmation requests go out as JSON frames, and
// confirmation decisions ride the same socket back. One command runs at a
// time per connection, same as the terminal REPL.
func (a *App) shellWS(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.activeSession(w, r)
	if !ok {
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "websocket upgrade required"})
		return
	}

	up := websocket.Upgrader{
		// The server only binds loopback; pages served from other local
		// ports are legitimate clients.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(a.maxBodyBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	send := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	_ = send(map[string]any{"type": "ready", "session": sess.Snapshot()})

	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() { _ = conn.Close() })
	}

	lines := make(chan string, 1)
	done := make(chan struct{})
	go a.shellWorker(ctx, sess, lines, send, done, closeConn)

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-done
			return
		}
		switch in.Type {
		case "input":
			if strings.TrimSpace(in.Text) == "" {
				continue
			}
			select {
			case lines <- in.Text:
			default:
				_ = send(map[string]any{"type": "error", "message": "a command is already running"})
			}
		case "confirm":
			if a.confirms == nil || !a.confirms.Resolve(in.ID, in.Approved, in.Reason) {
				_ = send(map[string]any{"type": "error", "message": "confirmation not found"})
			}
		default:
			_ = send(map[string]any{"type": "error", "message": "unknown frame type"})
		}
	}
}

func (a *App) shellWorker(ctx context.Context, sess *session.Session, lines <-chan string, send func(any) error, done chan<- struct{}, closeConn func()) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-lines:
			tr := a.interpretText(ctx, sess, text)
			res := a.exec.Execute(ctx, sess, tr.Command, a.wsConfirmFunc(send))
			if err := send(wsResult{Type: "result", Result: res}); err != nil {
				return
			}
			if res.Success && tr.Command.Verb == types.VerbExit {
				_ = send(map[string]any{"type": "exit"})
				closeConn()
				return
			}
		}
	}
}

// wsConfirmFunc announces the pending request on the socket, then parks in
// the shared confirmation manager. The decision may come back over this
// socket, the REST endpoint or a terminal prompt, whichever answers first.
func (a *App) wsConfirmFunc(send func(any) error) executor.ConfirmFunc {
	if a.confirms == nil {
		return nil
	}
	return func(ctx context.Context, req confirm.Request) (confirm.Resolution, error) {
		_ = send(wsConfirmRequest{Type: "confirm_request", Request: req})
		return a.confirms.Ask(ctx, req)
	}
}
