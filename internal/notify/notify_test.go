package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifySkipsWithoutCredentials(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	n := New("", "")
	n.Notify("block submitted")
	assert.False(t, called, "Notify must not make any request without credentials")
}

// TestSendMessageRequestEncoding checks the request body shape Notify
// builds (chat_id/text), since apiBase is a fixed Telegram endpoint and
// can't be redirected to a local test server.
func TestSendMessageRequestEncoding(t *testing.T) {
	body, err := json.Marshal(sendMessageRequest{ChatID: "-1001", Text: "hello"})
	require.NoError(t, err)

	var decoded sendMessageRequest
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "-1001", decoded.ChatID)
	assert.Equal(t, "hello", decoded.Text)
}

func TestNotifyHandlesUnreachableHostWithoutPanicking(t *testing.T) {
	n := New("faketoken", "-1001")
	assert.NotPanics(t, func() {
		n.Notify("should just log and return")
	})
}
