// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conhub/platform/connectors/base"
	"conhub/platform/connectors/credentials"
	"conhub/platform/connectors/registry"
	"conhub/platform/connectors/router"
	"conhub/platform/connectors/sdk"
	"conhub/platform/shared/logger"
)

const testSecret = "test-secret"

func quietLogger() *logger.Logger {
	l := logger.New("server-test")
	l.SetOutput(io.Discard)
	return l
}

func newTestRouter(t *testing.T) (*router.Router, *sdk.MockConnector) {
	t.Helper()
	mock := sdk.NewMockConnector("docs", base.OpSearch)
	mock.SetSearchItems(
		base.Item{"id": "a", "name": "old", "modifiedTime": "2023-01-01T00:00:00Z"},
		base.Item{"id": "b", "name": "new", "modifiedTime": "2024-01-01T00:00:00Z"},
	)

	reg := registry.NewRegistry()
	reg.SetLogger(log.New(io.Discard, "", 0))
	require.NoError(t, reg.Register(mock))

	rt := router.NewRouter(reg, credentials.NewManager(credentials.NewMemoryStore()), nil)
	rt.SetLogger(quietLogger())
	return rt, mock
}

func newTestServer(t *testing.T) (*httptest.Server, *sdk.MockConnector) {
	t.Helper()
	rt, mock := newTestRouter(t)
	s := NewHTTPServer(rt, HTTPConfig{JWTSecret: testSecret})
	s.SetLogger(quietLogger())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, mock
}

func signToken(t *testing.T, secret, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func postRPC(t *testing.T, url, body string, header http.Header) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/rpc", strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestRPC_Search(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, out := postRPC(t, ts.URL, `{"method":"docs.search","params":{"query":"x","options":{"limit":2}},"id":7}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(headerRequestID))
	assert.Equal(t, float64(7), out["id"])

	result := out["result"].(map[string]interface{})
	assert.Equal(t, true, result["hasMore"])
	first := result["results"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "b", first["id"])
}

func TestRPC_ErrorsAreEnvelopes(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"method":`, router.CodeInvalidRequest},
		{"unknown connector", `{"method":"ghost.search","id":"1"}`, router.CodeConnectorNotFound},
		{"unsupported operation", `{"method":"docs.delete","id":"2"}`, router.CodeUnsupportedOperation},
		{"unknown method", `{"method":"reboot","id":"3"}`, router.CodeMethodNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := postRPC(t, ts.URL, tt.body, nil)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			require.Contains(t, out, "error")
			assert.Equal(t, tt.code, out["error"].(map[string]interface{})["code"])
			assert.NotContains(t, out, "result")
		})
	}
}

func TestRPC_MalformedHasNullID(t *testing.T) {
	ts, _ := newTestServer(t)

	_, out := postRPC(t, ts.URL, `not json`, nil)
	id, present := out["id"]
	assert.True(t, present)
	assert.Nil(t, id)
}

func TestRPC_MalformedParamsEchoID(t *testing.T) {
	ts, _ := newTestServer(t)

	_, out := postRPC(t, ts.URL, `{"id":"p1","method":"docs.search","params":"budget"}`, nil)
	assert.Equal(t, "p1", out["id"])
	assert.Equal(t, router.CodeInvalidRequest, out["error"].(map[string]interface{})["code"])
}

func TestRPC_RequestIDIsEchoed(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := postRPC(t, ts.URL, `{"method":"list","id":"1"}`, http.Header{headerRequestID: {"req-123"}})
	assert.Equal(t, "req-123", resp.Header.Get(headerRequestID))
}

func TestRPC_BearerTokenSetsPrincipal(t *testing.T) {
	ts, mock := newTestServer(t)
	mock.SetRequiresAuth(true)

	token := signToken(t, testSecret, "alice")
	header := http.Header{"Authorization": {"Bearer " + token}}

	// no credential stored for alice yet
	_, out := postRPC(t, ts.URL, `{"method":"docs.search","params":{"query":"x"},"id":"1"}`, header)
	assert.Equal(t, router.CodeAuthFailed, out["error"].(map[string]interface{})["code"])

	_, out = postRPC(t, ts.URL, `{"method":"docs.authenticate","params":{"accessToken":"tok"},"id":"2"}`, header)
	require.NotContains(t, out, "error")

	_, out = postRPC(t, ts.URL, `{"method":"docs.search","params":{"query":"x"},"id":"3"}`, header)
	require.NotContains(t, out, "error")
	assert.Equal(t, "tok", mock.CredentialSeen(base.OpSearch).AccessToken)

	// another principal does not see alice's credential
	_, out = postRPC(t, ts.URL, `{"method":"docs.search","params":{"query":"x"},"id":"4"}`, http.Header{headerPrincipal: {"bob"}})
	assert.Equal(t, router.CodeAuthFailed, out["error"].(map[string]interface{})["code"])

	// naming alice in X-Principal without her token does not reach her credential
	_, out = postRPC(t, ts.URL, `{"method":"docs.search","params":{"query":"x"},"id":"5"}`, http.Header{headerPrincipal: {"alice"}})
	assert.Equal(t, router.CodeAuthFailed, out["error"].(map[string]interface{})["code"])
}

func TestRPC_InvalidBearerToken(t *testing.T) {
	ts, mock := newTestServer(t)

	header := http.Header{"Authorization": {"Bearer " + signToken(t, "wrong-secret", "mallory")}}
	_, out := postRPC(t, ts.URL, `{"method":"docs.search","id":"1"}`, header)
	assert.Equal(t, router.CodeAuthFailed, out["error"].(map[string]interface{})["code"])
	assert.Equal(t, "1", out["id"])
	assert.Equal(t, 0, mock.CallCount(base.OpSearch))
}

func TestAuthenticator_Principal(t *testing.T) {
	auth := NewAuthenticator(testSecret)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	p, err := auth.Principal(r)
	require.NoError(t, err)
	assert.Equal(t, base.DefaultPrincipal, p)

	// with a secret configured the header cannot pick a principal
	r.Header.Set(headerPrincipal, "victim@example.com")
	p, err = auth.Principal(r)
	require.NoError(t, err)
	assert.Equal(t, base.DefaultPrincipal, p)

	r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "alice"))
	p, err = auth.Principal(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", p)

	r.Header.Set("Authorization", "Basic abc")
	_, err = auth.Principal(r)
	assert.Error(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "eve"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.Subject(unsigned)
	assert.Error(t, err)
}

func TestAuthenticator_NoSecretIgnoresBearer(t *testing.T) {
	auth := NewAuthenticator("")
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer whatever")
	r.Header.Set(headerPrincipal, "bob")

	p, err := auth.Principal(r)
	require.NoError(t, err)
	assert.Equal(t, "bob", p)
}

func TestRESTHelpers(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/connectors")
	require.NoError(t, err)
	var list []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list, 1)
	assert.Equal(t, "docs", list[0]["id"])

	resp, err = http.Get(ts.URL + "/connectors/docs/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/connectors/ghost/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/prometheus")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "conhub_")
}

func TestHealth_UnhealthyConnectorIs503(t *testing.T) {
	ts, mock := newTestServer(t)
	mock.SetHealthStatus(false, "down")

	resp, err := http.Get(ts.URL + "/connectors/docs/health")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	rt, _ := newTestRouter(t)
	s := NewHTTPServer(rt, HTTPConfig{CORSOrigins: []string{"https://app.example.com"}})
	s.SetLogger(quietLogger())

	req := httptest.NewRequest(http.MethodOptions, "/rpc", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(router.CodeConnectorNotFound))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(router.CodeConnectorUnhealthy))
	assert.Equal(t, http.StatusBadRequest, StatusFor(router.CodeUnsupportedOperation))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(router.CodeInternalError))
}

func TestStdio_ServesEachLine(t *testing.T) {
	rt, _ := newTestRouter(t)
	s := NewStdioServer(rt, "")
	s.SetLogger(quietLogger())

	in := strings.NewReader(strings.Join([]string{
		`{"method":"docs.search","params":{"query":"x"},"id":"a"}`,
		``,
		`not json`,
		`{"method":"ghost.fetch","id":"b"}`,
		`{"method":"list","id":"c"}`,
		`{"method":"docs.search","params":[1],"id":"d"}`,
	}, "\n"))
	var out bytes.Buffer

	require.NoError(t, s.Serve(context.Background(), in, &out))

	var responses []map[string]interface{}
	dec := json.NewDecoder(&out)
	for dec.More() {
		var resp map[string]interface{}
		require.NoError(t, dec.Decode(&resp))
		responses = append(responses, resp)
	}
	require.Len(t, responses, 5)

	byID := map[string]map[string]interface{}{}
	var nullIDs int
	for _, resp := range responses {
		id, _ := resp["id"].(string)
		if resp["id"] == nil {
			nullIDs++
			assert.Equal(t, router.CodeInvalidRequest, resp["error"].(map[string]interface{})["code"])
			continue
		}
		byID[id] = resp
	}
	assert.Equal(t, 1, nullIDs)

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
	assert.Contains(t, byID["a"], "result")
	assert.Equal(t, router.CodeConnectorNotFound, byID["b"]["error"].(map[string]interface{})["code"])
	assert.Equal(t, router.CodeInvalidRequest, byID["d"]["error"].(map[string]interface{})["code"])
}

func TestStdio_SlowRequestDoesNotBlockOthers(t *testing.T) {
	rt, mock := newTestRouter(t)
	release := make(chan struct{})
	mock.SetBlock(base.OpSearch, release)

	s := NewStdioServer(rt, "")
	s.SetLogger(quietLogger())

	pr, pw := io.Pipe()
	out := &syncBuffer{lines: make(chan string, 4)}
	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background(), pr, out) }()

	_, _ = pw.Write([]byte(`{"method":"docs.search","params":{"query":"x"},"id":"slow"}` + "\n"))
	_, _ = pw.Write([]byte(`{"method":"list","id":"fast"}` + "\n"))

	select {
	case line := <-out.lines:
		assert.Contains(t, line, `"fast"`)
	case <-time.After(2 * time.Second):
		t.Fatal("list was blocked behind the slow search")
	}

	close(release)
	_ = pw.Close()
	require.NoError(t, <-done)
	assert.Contains(t, <-out.lines, `"slow"`)
}

// syncBuffer hands each written line to a channel
type syncBuffer struct {
	lines chan string
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.lines <- string(p)
	return len(p), nil
}
