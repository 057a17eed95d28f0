package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ratio1/r1-hashfield/hashfield"
	"github.com/Ratio1/r1-hashfield/kvstore"
)

type failConfig struct {
	rate float64
	code int
}

// recordingWriter keeps a copy of the response so it can be logged.
type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(p []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	rw.body.Write(p)
	return rw.ResponseWriter.Write(p)
}

func (rw *recordingWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *recordingWriter) statusCode() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

// keyLister is implemented by stores that can enumerate their keys.
type keyLister interface {
	Keys(ctx context.Context) ([]string, error)
}

type api struct {
	layer  *hashfield.Layer
	store  kvstore.Store
	events *hashfield.Recorder
	log    zerolog.Logger
}

func (a *api) routes(delay time.Duration, failCfg failConfig) *http.ServeMux {
	wrap := func(next http.HandlerFunc) http.HandlerFunc {
		return a.recoverMiddleware(a.loggingMiddleware(a.faultMiddleware(delay, failCfg, next)))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/get_status", wrap(a.handleStatus))
	mux.HandleFunc("/set", wrap(a.handleSet))
	mux.HandleFunc("/get", wrap(a.handleGet))
	mux.HandleFunc("/hset", wrap(a.handleHSet))
	mux.HandleFunc("/hsetnx", wrap(a.handleHSetNX))
	mux.HandleFunc("/hmset", wrap(a.handleHMSet))
	mux.HandleFunc("/hget", wrap(a.handleHGet))
	mux.HandleFunc("/hmget", wrap(a.handleHMGet))
	mux.HandleFunc("/hgetall", wrap(a.handleHGetAll))
	mux.HandleFunc("/hkeys", wrap(a.handleHKeys))
	mux.HandleFunc("/hlen", wrap(a.handleHLen))
	mux.HandleFunc("/hexists", wrap(a.handleHExists))
	mux.HandleFunc("/hdel", wrap(a.handleHDel))
	mux.HandleFunc("/hincr", wrap(a.arithHandler(a.layer.HIncrBy, "", 1)))
	mux.HandleFunc("/hincrby", wrap(a.arithHandler(a.layer.HIncrBy, "increment", 0)))
	mux.HandleFunc("/hincrbyfloat", wrap(a.arithHandler(a.layer.HIncrByFloat, "increment", 0)))
	mux.HandleFunc("/hdecr", wrap(a.arithHandler(a.layer.HDecrBy, "", 1)))
	mux.HandleFunc("/hdecrby", wrap(a.arithHandler(a.layer.HDecrBy, "decrement", 0)))
	mux.HandleFunc("/hdecrbyfloat", wrap(a.arithHandler(a.layer.HDecrByFloat, "decrement", 0)))
	mux.HandleFunc("/events", wrap(a.handleEvents))
	return mux
}

func (a *api) recoverMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panic")
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	}
}

func (a *api) loggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var reqBody []byte
		if r.Body != nil {
			var err error
			if reqBody, err = io.ReadAll(r.Body); err != nil {
				a.log.Warn().Err(err).Str("path", r.URL.Path).Msg("read request body")
			}
			r.Body = io.NopCloser(bytes.NewReader(reqBody))
		}

		rw := &recordingWriter{ResponseWriter: w}
		next(rw, r)

		a.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("query", r.URL.RawQuery).
			Int("status", rw.statusCode()).
			Dur("duration", time.Since(start)).
			Str("request", logBody(reqBody)).
			Str("response", logBody(rw.body.Bytes())).
			Msg("request")
	}
}

// faultMiddleware delays every request and fails a random share of them.
func (a *api) faultMiddleware(delay time.Duration, fc failConfig, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			time.Sleep(delay)
		}
		if fc.rate > 0 && rand.Float64() < fc.rate {
			status := fc.code
			if status == 0 {
				status = http.StatusInternalServerError
			}
			a.log.Debug().Str("path", r.URL.Path).Int("status", status).Msg("injected failure")
			a.writeError(w, status, "failure injected", nil)
			return
		}
		next(w, r)
	}
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	lister, ok := a.store.(keyLister)
	if !ok {
		a.writeError(w, http.StatusNotImplemented, "get_status is not supported by this backend", nil)
		return
	}
	keys, err := lister.Keys(r.Context())
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "get_status failed", err)
		return
	}
	a.writeResult(w, map[string]any{"keys": keys})
}

func (a *api) handleSet(w http.ResponseWriter, r *http.Request) {
	if !a.requireMethod(w, r, http.MethodPost) {
		return
	}
	var payload struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid JSON payload", err)
		return
	}
	if strings.TrimSpace(payload.Key) == "" {
		a.writeError(w, http.StatusBadRequest, "key is required", nil)
		return
	}
	value := []byte(payload.Value)
	if len(bytes.TrimSpace(value)) == 0 {
		value = []byte("null")
	}
	if err := a.store.Set(r.Context(), payload.Key, value); err != nil {
		a.writeError(w, http.StatusInternalServerError, "set failed", err)
		return
	}
	a.writeResult(w, true)
}

func (a *api) handleGet(w http.ResponseWriter, r *http.Request) {
	if !a.requireMethod(w, r, http.MethodGet) {
		return
	}
	key := r.URL.Query().Get("key")
	if strings.TrimSpace(key) == "" {
		a.writeError(w, http.StatusBadRequest, "missing key parameter", nil)
		return
	}
	data, err := a.store.Get(r.Context(), key)
	if errors.Is(err, kvstore.ErrNotFound) {
		a.writeResult(w, nil)
		return
	}
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "get failed", err)
		return
	}
	a.writeResult(w, json.RawMessage(data))
}

type fieldPayload struct {
	HashKey string          `json:"hkey"`
	Field   string          `json:"key"`
	Value   hashfield.Value `json:"value"`
}

func (a *api) decodeFieldPayload(w http.ResponseWriter, r *http.Request) (fieldPayload, bool) {
	var payload fieldPayload
	if !a.requireMethod(w, r, http.MethodPost) {
		return payload, false
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid JSON payload", err)
		return payload, false
	}
	if strings.TrimSpace(payload.HashKey) == "" || payload.Field == "" {
		a.writeError(w, http.StatusBadRequest, "hkey and key are required", nil)
		return payload, false
	}
	return payload, true
}

func (a *api) handleHSet(w http.ResponseWriter, r *http.Request) {
	payload, ok := a.decodeFieldPayload(w, r)
	if !ok {
		return
	}
	res, err := a.layer.HSet(r.Context(), payload.HashKey, payload.Field, payload.Value)
	if err != nil {
		a.writeLayerError(w, "hset failed", err)
		return
	}
	a.writeResult(w, res)
}

func (a *api) handleHSetNX(w http.ResponseWriter, r *http.Request) {
	payload, ok := a.decodeFieldPayload(w, r)
	if !ok {
		return
	}
	res, err := a.layer.HSetNX(r.Context(), payload.HashKey, payload.Field, payload.Value)
	if err != nil {
		a.writeLayerError(w, "hsetnx failed", err)
		return
	}
	a.writeResult(w, res)
}

func (a *api) handleHMSet(w http.ResponseWriter, r *http.Request) {
	if !a.requireMethod(w, r, http.MethodPost) {
		return
	}
	var payload struct {
		HashKey string                 `json:"hkey"`
		Fields  []hashfield.FieldValue `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid JSON payload", err)
		return
	}
	if strings.TrimSpace(payload.HashKey) == "" {
		a.writeError(w, http.StatusBadRequest, "hkey is required", nil)
		return
	}
	res, err := a.layer.HMSet(r.Context(), payload.HashKey, payload.Fields)
	if err != nil {
		a.writeLayerError(w, "hmset failed", err)
		return
	}
	a.writeResult(w, res)
}

func (a *api) handleHGet(w http.ResponseWriter, r *http.Request) {
	hashKey, field, ok := a.fieldQuery(w, r)
	if !ok {
		return
	}
	v, err := a.layer.HGet(r.Context(), hashKey, field)
	if err != nil {
		a.writeLayerError(w, "hget failed", err)
		return
	}
	a.writeResult(w, v)
}

func (a *api) handleHMGet(w http.ResponseWriter, r *http.Request) {
	hashKey, ok := a.hashKeyQuery(w, r)
	if !ok {
		return
	}
	fields := r.URL.Query()["key"]
	values, err := a.layer.HMGet(r.Context(), hashKey, fields)
	if err != nil {
		a.writeLayerError(w, "hmget failed", err)
		return
	}
	a.writeResult(w, values)
}

func (a *api) handleHGetAll(w http.ResponseWriter, r *http.Request) {
	hashKey, ok := a.hashKeyQuery(w, r)
	if !ok {
		return
	}
	h, err := a.layer.HGetAll(r.Context(), hashKey)
	if err != nil {
		a.writeLayerError(w, "hgetall failed", err)
		return
	}
	a.writeResult(w, h)
}

func (a *api) handleHKeys(w http.ResponseWriter, r *http.Request) {
	hashKey, ok := a.hashKeyQuery(w, r)
	if !ok {
		return
	}
	keys, err := a.layer.HKeys(r.Context(), hashKey)
	if err != nil {
		a.writeLayerError(w, "hkeys failed", err)
		return
	}
	a.writeResult(w, keys)
}

func (a *api) handleHLen(w http.ResponseWriter, r *http.Request) {
	hashKey, ok := a.hashKeyQuery(w, r)
	if !ok {
		return
	}
	n, err := a.layer.HLen(r.Context(), hashKey)
	if err != nil {
		a.writeLayerError(w, "hlen failed", err)
		return
	}
	a.writeResult(w, n)
}

func (a *api) handleHExists(w http.ResponseWriter, r *http.Request) {
	hashKey, field, ok := a.fieldQuery(w, r)
	if !ok {
		return
	}
	exists, err := a.layer.HExists(r.Context(), hashKey, field)
	if err != nil {
		a.writeLayerError(w, "hexists failed", err)
		return
	}
	a.writeResult(w, exists)
}

func (a *api) handleHDel(w http.ResponseWriter, r *http.Request) {
	payload, ok := a.decodeFieldPayload(w, r)
	if !ok {
		return
	}
	res, err := a.layer.HDel(r.Context(), payload.HashKey, payload.Field)
	if err != nil {
		a.writeLayerError(w, "hdel failed", err)
		return
	}
	a.writeResult(w, res)
}

type arithFunc func(ctx context.Context, key, field string, delta float64) (float64, error)

// arithHandler serves the increment family. With an empty deltaField the
// delta is fixed; otherwise it is read from that payload member.
func (a *api) arithHandler(op arithFunc, deltaField string, fixed float64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.requireMethod(w, r, http.MethodPost) {
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid JSON payload", err)
			return
		}
		hashKey, _ := payload["hkey"].(string)
		field, _ := payload["key"].(string)
		if strings.TrimSpace(hashKey) == "" || field == "" {
			a.writeError(w, http.StatusBadRequest, "hkey and key are required", nil)
			return
		}
		delta := fixed
		if deltaField != "" {
			var ok bool
			if delta, ok = coerceToFloat(payload[deltaField]); !ok {
				a.writeError(w, http.StatusBadRequest, deltaField+" must be a number", nil)
				return
			}
		}
		n, err := op(r.Context(), hashKey, field, delta)
		if err != nil {
			a.writeLayerError(w, "arithmetic failed", err)
			return
		}
		a.writeResult(w, n)
	}
}

func (a *api) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !a.requireMethod(w, r, http.MethodGet) {
		return
	}
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "since must be a non-negative integer", err)
			return
		}
		since = v
	}
	events := a.events.Since(since)
	if events == nil {
		events = []hashfield.Event{}
	}
	a.writeResult(w, events)
}

func (a *api) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		a.writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return false
	}
	return true
}

func (a *api) hashKeyQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !a.requireMethod(w, r, http.MethodGet) {
		return "", false
	}
	hashKey := r.URL.Query().Get("hkey")
	if strings.TrimSpace(hashKey) == "" {
		a.writeError(w, http.StatusBadRequest, "hkey is required", nil)
		return "", false
	}
	return hashKey, true
}

func (a *api) fieldQuery(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	hashKey, ok := a.hashKeyQuery(w, r)
	if !ok {
		return "", "", false
	}
	field := r.URL.Query().Get("key")
	if field == "" {
		a.writeError(w, http.StatusBadRequest, "hkey and key are required", nil)
		return "", "", false
	}
	return hashKey, field, true
}

func coerceToFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case json.Number:
		if parsed, err := v.Float64(); err == nil {
			return parsed, true
		}
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, hashfield.ErrNoSuchKey), errors.Is(err, hashfield.ErrNoSuchField):
		return http.StatusNotFound
	case errors.Is(err, hashfield.ErrFieldExists):
		return http.StatusConflict
	case errors.Is(err, hashfield.ErrNotNumber), errors.Is(err, hashfield.ErrWrongType):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (a *api) writeLayerError(w http.ResponseWriter, message string, err error) {
	a.writeError(w, statusFor(err), message, err)
}

func (a *api) writeResult(w http.ResponseWriter, payload any) {
	a.writeJSON(w, http.StatusOK, map[string]any{"result": payload})
}

type errorBody struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
		Detail  string `json:"detail,omitempty"`
	} `json:"error"`
}

func (a *api) writeError(w http.ResponseWriter, status int, message string, err error) {
	var body errorBody
	body.Error.Status = status
	body.Error.Message = message
	if err != nil {
		body.Error.Detail = err.Error()
	}
	if encErr := a.encode(w, status, body); encErr != nil {
		a.log.Error().Err(encErr).Int("status", status).Msg("encode error response")
	}
}

func (a *api) writeJSON(w http.ResponseWriter, status int, payload any) {
	if err := a.encode(w, status, payload); err != nil {
		a.log.Error().Err(err).Msg("encode response")
	}
}

func (a *api) encode(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// parseFailConfig reads "rate=<0..1>,code=<status>". The code defaults to 500.
func parseFailConfig(raw string) (failConfig, error) {
	fc := failConfig{}
	if strings.TrimSpace(raw) == "" {
		return fc, nil
	}
	fc.code = http.StatusInternalServerError
	for _, seg := range strings.Split(raw, ",") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		name, value, ok := strings.Cut(seg, "=")
		if !ok {
			return failConfig{}, fmt.Errorf("fail: segment %q is not name=value", seg)
		}
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		var err error
		switch name {
		case "rate":
			fc.rate, err = strconv.ParseFloat(value, 64)
		case "code":
			fc.code, err = strconv.Atoi(value)
		default:
			return failConfig{}, fmt.Errorf("fail: unknown setting %q", name)
		}
		if err != nil {
			return failConfig{}, fmt.Errorf("fail: %s: %w", name, err)
		}
	}
	if fc.rate < 0 || fc.rate > 1 {
		return failConfig{}, fmt.Errorf("fail: rate %v outside [0,1]", fc.rate)
	}
	return fc, nil
}

const maxLoggedBody = 1024

// logBody renders a body for the request log, cut at maxLoggedBody bytes.
func logBody(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	switch {
	case len(body) == 0:
		return "<empty>"
	case len(trimmed) == 0:
		return "<whitespace>"
	case len(trimmed) > maxLoggedBody:
		return string(trimmed[:maxLoggedBody]) + "...(truncated)"
	}
	return string(trimmed)
}
