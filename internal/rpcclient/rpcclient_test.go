package rpcclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler func(req request) response) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := handler(req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestGetBlockchainInfo(t *testing.T) {
	srv := newTestServer(t, func(req request) response {
		assert.Equal(t, "getblockchaininfo", req.Method)
		result, _ := json.Marshal(map[string]interface{}{"blocks": 123})
		return response{ID: req.ID, Result: result}
	})
	defer srv.Close()

	c := New(srv.URL, "user", "pass")
	info, err := c.GetBlockchainInfo()
	require.NoError(t, err)
	assert.Equal(t, int64(123), info.Blocks)
}

func TestGetBlockTemplateRequestsSegwit(t *testing.T) {
	srv := newTestServer(t, func(req request) response {
		params, ok := req.Params.([]interface{})
		require.True(t, ok)
		require.Len(t, params, 1)
		opts, ok := params[0].(map[string]interface{})
		require.True(t, ok)
		rules, ok := opts["rules"].([]interface{})
		require.True(t, ok)
		assert.Equal(t, []interface{}{"segwit"}, rules)

		result, _ := json.Marshal(map[string]interface{}{
			"version":       1,
			"coinbasevalue": 5000000000,
			"bits":          "1d00ffff",
		})
		return response{ID: req.ID, Result: result}
	})
	defer srv.Close()

	c := New(srv.URL, "user", "pass")
	tmpl, err := c.GetBlockTemplate()
	require.NoError(t, err)
	assert.EqualValues(t, 1, tmpl.Version)
	assert.Equal(t, int64(5000000000), tmpl.CoinbaseValue)
}

func TestCallRejectsIDMismatch(t *testing.T) {
	srv := newTestServer(t, func(req request) response {
		return response{ID: req.ID + 1}
	})
	defer srv.Close()

	c := New(srv.URL, "user", "pass")
	_, err := c.GetBlockchainInfo()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match request id")
}

func TestCallSurfacesRPCError(t *testing.T) {
	srv := newTestServer(t, func(req request) response {
		errBody, _ := json.Marshal(map[string]interface{}{"code": -1, "message": "boom"})
		return response{ID: req.ID, Error: errBody}
	})
	defer srv.Close()

	c := New(srv.URL, "user", "pass")
	err := c.SubmitBlock("deadbeef")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCallTransportFailure(t *testing.T) {
	c := New("http://127.0.0.1:0", "user", "pass")
	_, err := c.GetBlockchainInfo()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport error")
}
