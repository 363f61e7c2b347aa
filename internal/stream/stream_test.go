package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashpool/btcmine/internal/protocol"
)

// serverConns receives each accepted stream on a channel so the test can
// drive both ends.
func newTestServer(t *testing.T) (*httptest.Server, chan *Conn) {
	t.Helper()
	conns := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Accept(w, r)
		if err != nil {
			t.Logf("accept error: %v", err)
			return
		}
		conns <- c
	}))
	return srv, conns
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestSendRecvRoundTrip(t *testing.T) {
	srv, conns := newTestServer(t)
	defer srv.Close()

	client, err := Dial(wsURL(srv.URL))
	require.NoError(t, err)
	defer client.Close()

	server := <-conns
	defer server.Close()

	require.NoError(t, client.Send(protocol.EventPing, map[string]int{"n": 1}))

	frame, err := server.Recv()
	require.NoError(t, err)
	assert.Equal(t, protocol.EventPing, frame.Event)
}

func TestRecvReturnsErrorOnMalformedFrame(t *testing.T) {
	srv, conns := newTestServer(t)
	defer srv.Close()

	client, err := Dial(wsURL(srv.URL))
	require.NoError(t, err)
	defer client.Close()

	server := <-conns
	defer server.Close()

	require.NoError(t, client.ws.WriteMessage(websocket.TextMessage, []byte("not json")))

	_, err = server.Recv()
	assert.Error(t, err)
}

func TestRecvReturnsErrorAfterClose(t *testing.T) {
	srv, conns := newTestServer(t)
	defer srv.Close()

	client, err := Dial(wsURL(srv.URL))
	require.NoError(t, err)

	server := <-conns
	require.NoError(t, client.Close())

	time.Sleep(50 * time.Millisecond)
	_, err = server.Recv()
	assert.Error(t, err)
}

// TestSendIsSafeForConcurrentCallers guards against gorilla/websocket's
// "concurrent write to websocket connection" panic: the coordinator
// writes to one worker's Conn from both its own receive-loop goroutine
// (ping echo) and the tip-monitor/rebalance goroutines, with no other
// synchronization between those call sites.
func TestSendIsSafeForConcurrentCallers(t *testing.T) {
	srv, conns := newTestServer(t)
	defer srv.Close()

	client, err := Dial(wsURL(srv.URL))
	require.NoError(t, err)
	defer client.Close()

	server := <-conns
	defer server.Close()

	go func() {
		for {
			if _, err := client.Recv(); err != nil {
				return
			}
		}
	}()

	const goroutines = 20
	const sendsEach = 50
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < sendsEach; i++ {
				_ = server.Send(protocol.EventPing, i)
			}
		}()
	}
	wg.Wait()
}
