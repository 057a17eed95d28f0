package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ratio1/r1-hashfield/hashfield"
	"github.com/Ratio1/r1-hashfield/kvstore"
)

type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	} `json:"error"`
}

func newTestAPI(t *testing.T, failCfg failConfig) (*httptest.Server, *api) {
	t.Helper()
	store := kvstore.NewMemory()
	events := hashfield.NewRecorder(0)
	a := &api{
		layer:  hashfield.New(store, hashfield.WithObserver(events)),
		store:  store,
		events: events,
		log:    zerolog.Nop(),
	}
	srv := httptest.NewServer(a.routes(0, failCfg))
	t.Cleanup(srv.Close)
	return srv, a
}

func post(t *testing.T, srv *httptest.Server, path string, body any) (int, envelope) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func get(t *testing.T, srv *httptest.Server, path string, query url.Values) (int, envelope) {
	t.Helper()
	resp, err := http.Get(srv.URL + path + "?" + query.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestHTTPHSetAndHGet(t *testing.T) {
	srv, _ := newTestAPI(t, failConfig{})

	status, env := post(t, srv, "/hset", map[string]any{"hkey": "user:1", "key": "name", "value": "ada"})
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"hkey":"user:1","key":"name","value":"ada"}`, string(env.Result))

	status, env = get(t, srv, "/hget", url.Values{"hkey": {"user:1"}, "key": {"name"}})
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `"ada"`, string(env.Result))

	status, env = get(t, srv, "/hget", url.Values{"hkey": {"user:1"}, "key": {"age"}})
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Detail, "age")

	status, _ = get(t, srv, "/hget", url.Values{"hkey": {"nobody"}, "key": {"name"}})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHTTPHSetNXConflict(t *testing.T) {
	srv, _ := newTestAPI(t, failConfig{})

	status, _ := post(t, srv, "/hsetnx", map[string]any{"hkey": "h", "key": "f", "value": 1})
	require.Equal(t, http.StatusOK, status)

	status, env := post(t, srv, "/hsetnx", map[string]any{"hkey": "h", "key": "f", "value": 2})
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, env.Error)

	_, env = get(t, srv, "/hget", url.Values{"hkey": {"h"}, "key": {"f"}})
	assert.JSONEq(t, `1`, string(env.Result))
}

func TestHTTPHMSetAndReaders(t *testing.T) {
	srv, _ := newTestAPI(t, failConfig{})

	status, env := post(t, srv, "/hmset", map[string]any{
		"hkey": "cfg",
		"fields": []map[string]any{
			{"key": "b", "value": true},
			{"key": "a", "value": "x"},
			{"key": "n", "value": map[string]any{"deep": []any{1, "two"}}},
		},
	})
	require.Equal(t, http.StatusOK, status)
	var applied []hashfield.FieldResult
	require.NoError(t, json.Unmarshal(env.Result, &applied))
	assert.Len(t, applied, 3)

	_, env = get(t, srv, "/hgetall", url.Values{"hkey": {"cfg"}})
	assert.JSONEq(t, `{"a":"x","b":true,"n":{"deep":[1,"two"]}}`, string(env.Result))

	_, env = get(t, srv, "/hkeys", url.Values{"hkey": {"cfg"}})
	assert.JSONEq(t, `["a","b","n"]`, string(env.Result))

	_, env = get(t, srv, "/hlen", url.Values{"hkey": {"cfg"}})
	assert.JSONEq(t, `3`, string(env.Result))

	_, env = get(t, srv, "/hexists", url.Values{"hkey": {"cfg"}, "key": {"zzz"}})
	assert.JSONEq(t, `false`, string(env.Result))

	status, env = get(t, srv, "/hmget", url.Values{"hkey": {"cfg"}, "key": {"b", "a"}})
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[true,"x"]`, string(env.Result))

	status, _ = get(t, srv, "/hmget", url.Values{"hkey": {"cfg"}, "key": {"a", "missing"}})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = get(t, srv, "/hgetall", url.Values{"hkey": {"nothing"}})
	assert.Equal(t, http.StatusNotFound, status)

	_, env = get(t, srv, "/hlen", url.Values{"hkey": {"nothing"}})
	assert.JSONEq(t, `0`, string(env.Result))
}

func TestHTTPHDel(t *testing.T) {
	srv, _ := newTestAPI(t, failConfig{})

	post(t, srv, "/hset", map[string]any{"hkey": "h", "key": "f", "value": "v"})

	status, env := post(t, srv, "/hdel", map[string]any{"hkey": "h", "key": "f"})
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"hkey":"h","key":"f","value":"v"}`, string(env.Result))

	status, _ = post(t, srv, "/hdel", map[string]any{"hkey": "h", "key": "f"})
	assert.Equal(t, http.StatusNotFound, status)

	_, env = get(t, srv, "/hgetall", url.Values{"hkey": {"h"}})
	assert.JSONEq(t, `{}`, string(env.Result))
}

func TestHTTPArithmetic(t *testing.T) {
	srv, _ := newTestAPI(t, failConfig{})

	_, env := post(t, srv, "/hincr", map[string]any{"hkey": "c", "key": "n"})
	assert.JSONEq(t, `1`, string(env.Result))

	_, env = post(t, srv, "/hincrby", map[string]any{"hkey": "c", "key": "n", "increment": 9})
	assert.JSONEq(t, `10`, string(env.Result))

	_, env = post(t, srv, "/hdecrby", map[string]any{"hkey": "c", "key": "n", "decrement": "4"})
	assert.JSONEq(t, `6`, string(env.Result))

	_, env = post(t, srv, "/hdecr", map[string]any{"hkey": "c", "key": "n"})
	assert.JSONEq(t, `5`, string(env.Result))

	_, env = post(t, srv, "/hincrbyfloat", map[string]any{"hkey": "c", "key": "n", "increment": 0.5})
	assert.JSONEq(t, `5.5`, string(env.Result))

	_, env = post(t, srv, "/hdecrbyfloat", map[string]any{"hkey": "c", "key": "n", "decrement": 1.5})
	assert.JSONEq(t, `4`, string(env.Result))

	status, _ := post(t, srv, "/hincrby", map[string]any{"hkey": "c", "key": "n", "increment": "lots"})
	assert.Equal(t, http.StatusBadRequest, status)

	post(t, srv, "/hset", map[string]any{"hkey": "c", "key": "s", "value": "abc"})
	status, env = post(t, srv, "/hincr", map[string]any{"hkey": "c", "key": "s"})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
}

func TestHTTPEventsSince(t *testing.T) {
	srv, _ := newTestAPI(t, failConfig{})

	post(t, srv, "/hset", map[string]any{"hkey": "h", "key": "a", "value": 1})
	post(t, srv, "/hincr", map[string]any{"hkey": "h", "key": "a"})

	_, env := get(t, srv, "/events", url.Values{})
	var all []hashfield.Event
	require.NoError(t, json.Unmarshal(env.Result, &all))
	require.Len(t, all, 3)
	assert.Equal(t, hashfield.EventHSet, all[0].Name)
	assert.Equal(t, hashfield.EventHSet, all[1].Name)
	assert.Equal(t, hashfield.EventHIncr, all[2].Name)

	_, env = get(t, srv, "/events", url.Values{"since": {fmt.Sprint(all[1].Seq)}})
	var tail []hashfield.Event
	require.NoError(t, json.Unmarshal(env.Result, &tail))
	require.Len(t, tail, 1)
	assert.Equal(t, all[2].ID, tail[0].ID)

	status, _ := get(t, srv, "/events", url.Values{"since": {"-1"}})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHTTPRawSetGetAndStatus(t *testing.T) {
	srv, _ := newTestAPI(t, failConfig{})

	status, _ := post(t, srv, "/set", map[string]any{"key": "plain", "value": map[string]any{"x": 1}})
	require.Equal(t, http.StatusOK, status)

	_, env := get(t, srv, "/get", url.Values{"key": {"plain"}})
	assert.JSONEq(t, `{"x":1}`, string(env.Result))

	_, env = get(t, srv, "/get", url.Values{"key": {"absent"}})
	assert.True(t, len(env.Result) == 0 || string(env.Result) == "null", "got %s", env.Result)

	post(t, srv, "/hset", map[string]any{"hkey": "h", "key": "f", "value": 1})
	_, env = get(t, srv, "/get_status", url.Values{})
	assert.JSONEq(t, `{"keys":["h","plain"]}`, string(env.Result))
}

func TestHTTPWrongTypeAndValidation(t *testing.T) {
	srv, _ := newTestAPI(t, failConfig{})

	post(t, srv, "/set", map[string]any{"key": "scalar", "value": 42})
	status, _ := post(t, srv, "/hset", map[string]any{"hkey": "scalar", "key": "f", "value": 1})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = post(t, srv, "/hset", map[string]any{"key": "f", "value": 1})
	assert.Equal(t, http.StatusBadRequest, status)

	resp, err := http.Get(srv.URL + "/hset")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTPFailureInjection(t *testing.T) {
	srv, _ := newTestAPI(t, failConfig{rate: 1, code: http.StatusServiceUnavailable})

	status, env := get(t, srv, "/hlen", url.Values{"hkey": {"h"}})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "failure injected", env.Error.Message)
}

func TestParseFailConfig(t *testing.T) {
	cfg, err := parseFailConfig("")
	require.NoError(t, err)
	assert.Equal(t, failConfig{}, cfg)

	cfg, err = parseFailConfig("rate=0.25, code=502")
	require.NoError(t, err)
	assert.Equal(t, failConfig{rate: 0.25, code: 502}, cfg)

	cfg, err = parseFailConfig("rate=0.5")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, cfg.code)

	_, err = parseFailConfig("rate")
	assert.Error(t, err)
	_, err = parseFailConfig("speed=3")
	assert.Error(t, err)
	_, err = parseFailConfig("rate=1.5")
	assert.Error(t, err)
	_, err = parseFailConfig("code=abc")
	assert.Error(t, err)
}

type brokenWriter struct {
	header http.Header
	status int
}

func (b *brokenWriter) Header() http.Header { return b.header }

func (b *brokenWriter) WriteHeader(code int) { b.status = code }

func (b *brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestWriteErrorLogsEncodeFailure(t *testing.T) {
	var logs bytes.Buffer
	a := &api{log: zerolog.New(&logs)}
	w := &brokenWriter{header: http.Header{}}

	a.writeError(w, http.StatusNotFound, "missing", nil)

	assert.Equal(t, http.StatusNotFound, w.status)
	assert.Contains(t, logs.String(), "encode error response")
	assert.Contains(t, logs.String(), "connection reset")

	logs.Reset()
	a.writeResult(w, 1)
	assert.Contains(t, logs.String(), "encode response")
}

func TestLogBody(t *testing.T) {
	assert.Equal(t, "<empty>", logBody(nil))
	assert.Equal(t, "<whitespace>", logBody([]byte("  \n")))
	assert.Equal(t, `{"a":1}`, logBody([]byte(` {"a":1} `)))

	long := bytes.Repeat([]byte("x"), maxLoggedBody+10)
	got := logBody(long)
	assert.True(t, len(got) < len(long)+20)
	assert.Contains(t, got, "...(truncated)")
}

func TestHostFromAddr(t *testing.T) {
	assert.Equal(t, "localhost", hostFromAddr(""))
	assert.Equal(t, "localhost:8787", hostFromAddr(":8787"))
	assert.Equal(t, "10.0.0.1:80", hostFromAddr("10.0.0.1:80"))
}
