package replica

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestDialWSSendsBearerAuthHeader(t *testing.T) {
	var gotAuth string
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		require.NoError(t, conn.WriteJSON(Frame{Type: "ack", Table: f.Table}))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	transport, err := DialWS(context.Background(), wsURL, "secret-token")
	require.NoError(t, err)
	defer transport.Close()

	require.Equal(t, "Bearer secret-token", gotAuth)

	require.NoError(t, transport.Send(Frame{Type: "push", Table: "categories"}))
	reply, err := transport.Receive()
	require.NoError(t, err)
	require.Equal(t, "ack", reply.Type)
	require.Equal(t, "categories", reply.Table)
}

func TestDialWSFailsAgainstNonWebSocketServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, err := DialWS(context.Background(), wsURL, "")
	require.Error(t, err)
}
