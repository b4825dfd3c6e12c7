/*
2019 © Postgres.ai
*/

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/postgres-ai/lockprobe/pkg/config"
	"gitlab.com/postgres-ai/lockprobe/pkg/explain"
	"gitlab.com/postgres-ai/lockprobe/pkg/locks"
	"gitlab.com/postgres-ai/lockprobe/pkg/models"
	"gitlab.com/postgres-ai/lockprobe/pkg/probe"
)

type analyzerMock struct {
	requests []probe.Request
	records  []locks.Record
	err      error
}

func (m *analyzerMock) Analyze(_ context.Context, req probe.Request) ([]locks.Record, error) {
	m.requests = append(m.requests, req)

	return m.records, m.err
}

func newTestServer(t *testing.T, cfg config.App, analyzer Analyzer) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(NewApp(cfg, analyzer, explain.Default(), 1).Handler())
	t.Cleanup(srv.Close)

	return srv
}

func doRequest(t *testing.T, method, url, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func TestAnalyzeLocks(t *testing.T) {
	analyzer := &analyzerMock{
		records: []locks.Record{{LockType: "relation", Mode: locks.RowExclusive, Schema: "public", Relation: "t"}},
	}
	srv := newTestServer(t, config.App{}, analyzer)

	resp := doRequest(t, http.MethodPut, srv.URL+"/locks", `{"query": "UPDATE t SET x = 1", "schema": "public"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var records []locks.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	assert.Equal(t, analyzer.records, records)

	require.Len(t, analyzer.requests, 1)
	assert.Equal(t, "UPDATE t SET x = 1", analyzer.requests[0].Statement)
	require.NotNil(t, analyzer.requests[0].Schema)
	assert.Equal(t, "public", *analyzer.requests[0].Schema)
	assert.Nil(t, analyzer.requests[0].Relation)
}

func TestAnalyzeLocksRawModes(t *testing.T) {
	srv := newTestServer(t, config.App{}, &analyzerMock{
		records: []locks.Record{{LockType: "relation", Mode: locks.AccessShare, Schema: "public", Relation: "t"}},
	})

	resp := doRequest(t, http.MethodPut, srv.URL+"/locks", `{"query": "SELECT * FROM t"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"locktype":"relation","mode":"AccessShareLock","schema":"public","relation":"t"}]`, buf.String())
}

func TestAnalyzeLocksRelationInBody(t *testing.T) {
	analyzer := &analyzerMock{records: []locks.Record{}}
	srv := newTestServer(t, config.App{}, analyzer)

	resp := doRequest(t, http.MethodPut, srv.URL+"/locks", `{"query": "SELECT 1", "relation": "events/2024"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, analyzer.requests, 1)
	require.NotNil(t, analyzer.requests[0].Relation)
	assert.Equal(t, "events/2024", *analyzer.requests[0].Relation)
}

func TestAnalyzeLocksOnRelation(t *testing.T) {
	analyzer := &analyzerMock{records: []locks.Record{}}
	srv := newTestServer(t, config.App{}, analyzer)

	resp := doRequest(t, http.MethodPut, srv.URL+"/locks/orders", `{"query": "SELECT 1", "relation": "ignored"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, analyzer.requests, 1)
	require.NotNil(t, analyzer.requests[0].Relation)
	assert.Equal(t, "orders", *analyzer.requests[0].Relation)
}

func TestAnalyzeLocksBadRequests(t *testing.T) {
	srv := newTestServer(t, config.App{}, &analyzerMock{})

	testCases := []struct {
		caseName string
		method   string
		body     string
		status   int
	}{
		{caseName: "empty body", method: http.MethodPut, body: "", status: http.StatusBadRequest},
		{caseName: "malformed body", method: http.MethodPut, body: "{", status: http.StatusBadRequest},
		{caseName: "wrong method", method: http.MethodPost, body: `{"query": "SELECT 1"}`, status: http.StatusMethodNotAllowed},
	}

	for _, tc := range testCases {
		t.Run(tc.caseName, func(t *testing.T) {
			resp := doRequest(t, tc.method, srv.URL+"/locks", tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestProbeErrors(t *testing.T) {
	testCases := []struct {
		caseName     string
		err          error
		expectedType string
		status       int
	}{
		{
			caseName:     "statement execution failure",
			err:          &probe.Error{Kind: probe.StatementExecutionFailure, Err: errors.New("division by zero")},
			expectedType: "statement_execution_failure",
			status:       http.StatusBadRequest,
		},
		{
			caseName:     "connection failure",
			err:          &probe.Error{Kind: probe.ConnectionFailure, Err: errors.New("conn closed")},
			expectedType: "connection_failure",
			status:       http.StatusServiceUnavailable,
		},
		{
			caseName:     "wait timeout",
			err:          &probe.Error{Kind: probe.WaitTimeout, Err: context.DeadlineExceeded},
			expectedType: "wait_timeout",
			status:       http.StatusServiceUnavailable,
		},
		{
			caseName:     "rollback failure",
			err:          &probe.Error{Kind: probe.RollbackFailure, Err: errors.New("conn closed")},
			expectedType: "rollback_failure",
			status:       http.StatusInternalServerError,
		},
		{
			caseName:     "lock mode parse failure",
			err:          &probe.Error{Kind: probe.LockModeParseFailure, Err: &locks.ParseError{Text: "SIReadLock"}},
			expectedType: "lock_mode_parse_failure",
			status:       http.StatusInternalServerError,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.caseName, func(t *testing.T) {
			srv := newTestServer(t, config.App{}, &analyzerMock{err: tc.err})

			resp := doRequest(t, http.MethodPut, srv.URL+"/locks", `{"query": "SELECT 1/0"}`)
			assert.Equal(t, tc.status, resp.StatusCode)

			var errResp models.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
			assert.Equal(t, tc.expectedType, errResp.Type)
			assert.Equal(t, tc.err.Error(), errResp.Message)
		})
	}
}

func TestExplainMode(t *testing.T) {
	srv := newTestServer(t, config.App{}, &analyzerMock{})

	resp := doRequest(t, http.MethodGet, srv.URL+"/modes/ACCESS%20EXCLUSIVE", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var explanation struct {
		Mode      string   `json:"mode"`
		Conflicts []string `json:"conflicts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&explanation))
	assert.Equal(t, "AccessExclusiveLock", explanation.Mode)
	assert.Len(t, explanation.Conflicts, 8)

	resp = doRequest(t, http.MethodGet, srv.URL+"/modes/SIReadLock", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t, config.App{Version: "v1.0.0"}, &analyzerMock{})

	resp := doRequest(t, http.MethodGet, srv.URL+"/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health models.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "v1.0.0", health.Version)
	assert.Equal(t, 1, health.Pairs)
	assert.NotEmpty(t, health.Started)
	assert.NotEmpty(t, health.Uptime)
}

func TestVerification(t *testing.T) {
	secret := "secret"
	analyzer := &analyzerMock{records: []locks.Record{}}
	srv := newTestServer(t, config.App{VerificationSecret: secret}, analyzer)

	body := `{"query": "SELECT 1"}`

	resp := doRequest(t, http.MethodPut, srv.URL+"/locks", body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/locks", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(VerificationSignatureKey, SignatureHeader([]byte("wrong"), []byte(body)))

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPut, srv.URL+"/locks", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(VerificationSignatureKey, SignatureHeader([]byte(secret), []byte(body)))

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, analyzer.requests, 1)
}

func TestSignatureHeader(t *testing.T) {
	header := SignatureHeader([]byte("secret"), []byte(`{"query":"SELECT 1"}`))

	assert.True(t, strings.HasPrefix(header, "v0="))
	assert.Len(t, header, len("v0=")+64)
	assert.Equal(t, header, SignatureHeader([]byte("secret"), []byte(`{"query":"SELECT 1"}`)))
	assert.NotEqual(t, header, SignatureHeader([]byte("secret"), []byte(`{"query":"SELECT 2"}`)))
}

func TestVerificationMalformedSignature(t *testing.T) {
	analyzer := &analyzerMock{records: []locks.Record{}}
	srv := newTestServer(t, config.App{VerificationSecret: "secret"}, analyzer)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/locks", strings.NewReader(`{"query": "SELECT 1"}`))
	require.NoError(t, err)
	req.Header.Set(VerificationSignatureKey, "v0=not-hex")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, analyzer.requests)
}
