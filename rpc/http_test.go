package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"proxyvm/core"
	"proxyvm/core/contracts"
	"proxyvm/storage"
)

const testCaller = "0x000000000000000000000000000000000000000f"

func newTestServer(t *testing.T, opts ...ServerOption) *httptest.Server {
	t.Helper()
	w := core.NewWorld(storage.NewMemDB())
	require.NoError(t, w.RegisterCode(contracts.NewCounterV1()))
	require.NoError(t, w.RegisterCode(contracts.NewCounterV2()))
	srv := NewServer(w, opts...)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, ts *httptest.Server, body string, headers map[string]string) rpcResponse {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded rpcResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return decoded
}

func rpcCall(t *testing.T, ts *httptest.Server, method string, params string, headers map[string]string) rpcResponse {
	t.Helper()
	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":%q,"params":[%s]}`, method, params)
	return post(t, ts, body, headers)
}

func TestDeployCallIntrospectRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	resp := rpcCall(t, ts, "proxy_deploy", fmt.Sprintf(
		`{"caller":%q,"code":"counter@1","init":{"method":"initialize","args":[%q,"0"]}}`,
		testCaller, testCaller), nil)
	require.Nil(t, resp.Error)
	var deployed deployResult
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &deployed))

	resp = rpcCall(t, ts, "proxy_call", fmt.Sprintf(
		`{"caller":%q,"to":%q,"method":"setValue","args":["42"]}`, testCaller, deployed.Proxy), nil)
	require.Nil(t, resp.Error)

	resp = rpcCall(t, ts, "proxy_call", fmt.Sprintf(
		`{"caller":%q,"to":%q,"method":"getValue"}`, testCaller, deployed.Proxy), nil)
	require.Nil(t, resp.Error)
	var out callResult
	raw, err = json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.Output, 1)
	require.Equal(t, "0x000000000000000000000000000000000000000000000000000000000000002a", out.Output[0])

	resp = rpcCall(t, ts, "proxy_introspect", fmt.Sprintf(`{"proxy":%q}`, deployed.Proxy), nil)
	require.Nil(t, resp.Error)
	var info introspectResult
	raw, err = json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &info))
	require.Equal(t, deployed.Implementation, info.Implementation)
	require.Equal(t, "counter@1", info.CodeRef)
	require.Equal(t, uint64(1), info.Epoch)
}

func TestUpgradeOverRPC(t *testing.T) {
	ts := newTestServer(t)
	resp := rpcCall(t, ts, "proxy_deploy", fmt.Sprintf(
		`{"caller":%q,"code":"counter@1","init":{"method":"initialize","args":[%q,"43"]}}`,
		testCaller, testCaller), nil)
	require.Nil(t, resp.Error)
	var deployed deployResult
	raw, _ := json.Marshal(resp.Result)
	require.NoError(t, json.Unmarshal(raw, &deployed))

	resp = rpcCall(t, ts, "proxy_upgrade", fmt.Sprintf(
		`{"caller":%q,"proxy":%q,"code":"counter@2","post":{"method":"reinitialize","args":["2","100"]}}`,
		testCaller, deployed.Proxy), nil)
	require.Nil(t, resp.Error)

	resp = rpcCall(t, ts, "proxy_call", fmt.Sprintf(
		`{"caller":%q,"to":%q,"method":"getTotal"}`, testCaller, deployed.Proxy), nil)
	require.Nil(t, resp.Error)
	var out callResult
	raw, _ = json.Marshal(resp.Result)
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Equal(t, "0x000000000000000000000000000000000000000000000000000000000000008f", out.Output[0])
}

func TestMethodNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp := rpcCall(t, ts, "proxy_selfdestruct", `{}`, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestParseError(t *testing.T) {
	ts := newTestServer(t)
	resp := post(t, ts, `{not json`, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeParseError, resp.Error.Code)
}

func TestInvalidAddressRejected(t *testing.T) {
	ts := newTestServer(t)
	resp := rpcCall(t, ts, "proxy_call", `{"caller":"nope","to":"nope","method":"getValue"}`, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestPrivilegedMethodsRequireToken(t *testing.T) {
	ts := newTestServer(t, WithAuthSecret("test-secret"))

	deployBody := fmt.Sprintf(`{"caller":%q,"code":"counter@1"}`, testCaller)
	resp := rpcCall(t, ts, "proxy_deploy", deployBody, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	token, err := MintToken("test-secret", "ops", time.Minute)
	require.NoError(t, err)
	resp = rpcCall(t, ts, "proxy_deploy", deployBody, map[string]string{"Authorization": "Bearer " + token})
	require.Nil(t, resp.Error)

	// Wrong secret fails.
	forged, err := MintToken("other-secret", "ops", time.Minute)
	require.NoError(t, err)
	resp = rpcCall(t, ts, "proxy_deploy", deployBody, map[string]string{"Authorization": "Bearer " + forged})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	// Reads stay open even with auth enabled.
	resp = rpcCall(t, ts, "proxy_call", `{"caller":"0x0f","to":"0x10","method":"getValue"}`, nil)
	require.NotNil(t, resp.Error)
	require.NotEqual(t, codeUnauthorized, resp.Error.Code)
}
