package replica

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WSTransport speaks the wss:// sync-frame protocol accepted by spec.md
// §6.2 as an alternative to the https:// remote endpoint, used when
// Config.RemoteURL has scheme wss://. Grounded on gorilla/websocket, the
// same dependency the teacher uses for its own realtime layer.
type WSTransport struct {
	conn *websocket.Conn
}

// Frame is one sync message exchanged over the WebSocket transport:
// either a batch of changed rows (pushed by the client) or an
// acknowledgement/rejection (returned by the remote).
type Frame struct {
	Type    string          `json:"type"` // "push", "ack", "nack", "pull"
	Table   string          `json:"table,omitempty"`
	Records json.RawMessage `json:"records,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// DialWS opens a wss:// connection carrying the auth token as a bearer
// header; the https:// transport (dialRemote) passes its token as an
// authToken DSN parameter instead.
func DialWS(ctx context.Context, url, authToken string) (*WSTransport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	if authToken != "" {
		header.Set("Authorization", "Bearer "+authToken)
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("replica: wss dial failed, status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("replica: wss dial failed: %w", err)
	}
	return &WSTransport{conn: conn}, nil
}

// Send writes one frame as JSON text.
func (t *WSTransport) Send(f Frame) error {
	return t.conn.WriteJSON(f)
}

// Receive blocks for the next frame.
func (t *WSTransport) Receive() (Frame, error) {
	var f Frame
	err := t.conn.ReadJSON(&f)
	return f, err
}

// Close closes the underlying WebSocket connection cleanly.
func (t *WSTransport) Close() error {
	_ = t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return t.conn.Close()
}
