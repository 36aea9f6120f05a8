package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequestOmitsEmptyParams(t *testing.T) {
	raw, err := EncodeRequest(1, "ping", nil)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	_, hasParams := generic["params"]
	assert.False(t, hasParams, "empty params must be omitted, got %s", raw)
	assert.Equal(t, "2.0", generic["jsonrpc"])
}

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	raw, err := EncodeRequest(7, "tools/call", map[string]any{"name": "echo"})
	require.NoError(t, err)

	kind, msg, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, KindRequest, kind)

	req, ok := msg.(*Request)
	require.True(t, ok)
	assert.Equal(t, "tools/call", req.Method)
	id, ok := DecodeID(req.ID)
	require.True(t, ok)
	assert.Equal(t, int64(7), id)

	if diff := cmp.Diff(map[string]any{"name": "echo"}, req.Params); diff != "" {
		t.Fatalf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeClassification(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		kind Kind
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, KindRequest},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, KindNotification},
		{"response", `{"jsonrpc":"2.0","id":1,"result":{}}`, KindResponse},
		{"error-response", `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"nope"}}`, KindErrorResponse},
		{"invalid", `{"jsonrpc":"2.0","foo":"bar"}`, KindInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind, _, err := Decode([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.kind, kind)
		})
	}
}

func TestDecodeParseFailureDistinctFromInvalid(t *testing.T) {
	_, _, err := Decode([]byte(`not json at all`))
	assert.Error(t, err)

	kind, _, err := Decode([]byte(`[1,2,3]`))
	require.Error(t, err) // an array isn't a JSON object, so this is a parse failure too
	_ = kind
}

func TestEncodeNotificationOmitsID(t *testing.T) {
	raw, err := EncodeNotification("notifications/initialized", nil)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	_, hasID := generic["id"]
	assert.False(t, hasID)
}

func TestDecodeErrorResponseFields(t *testing.T) {
	kind, msg, err := Decode([]byte(`{"jsonrpc":"2.0","id":"5","error":{"code":-32602,"message":"bad args"}}`))
	require.NoError(t, err)
	require.Equal(t, KindErrorResponse, kind)

	errResp := msg.(*ErrorResponse)
	assert.Equal(t, -32602, errResp.Error.Code)
	assert.Equal(t, "bad args", errResp.Error.Message)
}
