// Package server provides the HTTP surface: the two translating POST
// endpoints, health and shutdown endpoints, and the per-request dispatch
// logic that picks streaming vs unary mode and calls the bridge
// transcoders in internal/bridge.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/heungtae/codex-chat-bridge/internal/bridge"
	"github.com/heungtae/codex-chat-bridge/internal/config"
	"github.com/heungtae/codex-chat-bridge/internal/observability"
)

// forwardedHeaders lists the caller headers echoed verbatim to the
// upstream, per spec.md §6.
var forwardedHeaders = []string{
	"openai-organization",
	"openai-project",
	"x-openai-subagent",
	"x-codex-turn-state",
	"x-codex-turn-metadata",
}

// schema names an incoming or upstream wire schema.
type schema int

const (
	schemaResponses schema = iota
	schemaChat
)

func (s schema) endpoint() string {
	if s == schemaResponses {
		return "/v1/responses"
	}
	return "/v1/chat/completions"
}

// defaultStream is the per-schema streaming default: Responses requests
// default to streaming, Chat requests default to unary. This asymmetry
// matches the upstream services' own conventions and must be preserved
// even when the caller omits `stream`, since it determines the caller's
// expected framing.
func defaultStream(s schema) bool {
	return s == schemaResponses
}

// Dispatcher is the shared HTTP handler for both translating endpoints.
// It owns no per-request state: the accumulator, SSE parser, and response
// identifier for a request all live on the call stack of a single
// ServeHTTP invocation.
type Dispatcher struct {
	cfg        *config.Config
	apiKey     string
	httpClient *http.Client
	dropTypes  map[string]bool
	shutdown   func()
}

// New builds a Dispatcher from resolved configuration, the bearer token
// to forward upstream, and the shutdown callback invoked by the optional
// /shutdown endpoint (pass nil to leave it disabled regardless of config).
func New(cfg *config.Config, apiKey string, httpClient *http.Client, shutdown func()) *Dispatcher {
	drop := make(map[string]bool, len(cfg.DropToolTypes))
	for _, t := range cfg.DropToolTypes {
		drop[t] = true
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Dispatcher{
		cfg:        cfg,
		apiKey:     apiKey,
		httpClient: httpClient,
		dropTypes:  drop,
		shutdown:   shutdown,
	}
}

// Handler returns the http.Handler serving both translating endpoints
// plus /healthz and /shutdown.
func (d *Dispatcher) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/responses", d.handleResponses)
	mux.HandleFunc("POST /v1/chat/completions", d.handleChatCompletions)
	mux.HandleFunc("GET /healthz", d.handleHealthz)
	mux.HandleFunc("GET /shutdown", d.handleShutdown)
	return mux
}

func (d *Dispatcher) handleResponses(w http.ResponseWriter, r *http.Request) {
	d.dispatch(w, r, schemaResponses)
}

func (d *Dispatcher) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	d.dispatch(w, r, schemaChat)
}

func (d *Dispatcher) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleShutdown schedules process exit ~50ms after responding, so the
// HTTP response itself reaches the caller before the process exits.
func (d *Dispatcher) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !d.cfg.HTTPShutdown || d.shutdown == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
	go func() {
		time.Sleep(50 * time.Millisecond)
		d.shutdown()
	}()
}

// dispatch implements spec.md §4.6 step by step: parse, pick mode, filter
// tools, transcode, call upstream, frame the response or the error.
func (d *Dispatcher) dispatch(w http.ResponseWriter, r *http.Request, incoming schema) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		streamMode := defaultStream(incoming)
		d.writeModeError(w, incoming, streamMode, bridge.NewInvalidRequestError("reading request body: "+err.Error()))
		d.countRequest(incoming, streamMode, "error")
		return
	}

	req := bridge.JSON{}
	if len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, &req); err != nil {
			streamMode := defaultStream(incoming)
			d.writeModeError(w, incoming, streamMode, bridge.NewInvalidRequestError("invalid JSON: "+err.Error()))
			d.countRequest(incoming, streamMode, "error")
			return
		}
	}

	streamMode := defaultStream(incoming)
	if v, ok := req["stream"].(bool); ok {
		streamMode = v
	}

	bridge.FilterTools(req, d.dropTypes)

	upstreamBody, err := d.transcodeRequest(req, incoming, streamMode)
	if err != nil {
		d.writeModeError(w, incoming, streamMode, err)
		d.countRequest(incoming, streamMode, "error")
		return
	}

	responseID := bridge.NewResponseID()

	resp, err := d.callUpstream(r.Context(), upstreamBody, r)
	if err != nil {
		d.writeModeError(w, incoming, streamMode, bridge.NewUpstreamTransportError(err.Error()))
		d.countRequest(incoming, streamMode, "error")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		d.writeModeError(w, incoming, streamMode, bridge.NewUpstreamError(resp.StatusCode, http.StatusText(resp.StatusCode), string(raw)))
		d.countRequest(incoming, streamMode, "error")
		return
	}

	if streamMode {
		d.streamResponse(w, r.Context(), resp.Body, incoming, responseID)
		d.countRequest(incoming, streamMode, "ok")
		return
	}
	d.unaryResponse(w, resp.Body, incoming, responseID)
	d.countRequest(incoming, streamMode, "ok")
}

// countRequest records the outcome of a dispatched request by endpoint,
// mode, and status. The upstream latency histogram and the
// streaming-connections gauge are updated in callUpstream and
// streamResponse.
func (d *Dispatcher) countRequest(incoming schema, streamMode bool, status string) {
	mode := "unary"
	if streamMode {
		mode = "stream"
	}
	observability.RequestsTotal.WithLabelValues(incoming.endpoint(), mode, status).Inc()
}

// transcodeRequest picks one of the four transcoders by (incoming schema,
// upstream wire) and overwrites the outgoing stream flag with the mode
// already chosen by the dispatcher, per the idempotent mode coercion
// invariant.
func (d *Dispatcher) transcodeRequest(req bridge.JSON, incoming schema, stream bool) (bridge.JSON, *bridge.Error) {
	upstreamIsChat := d.cfg.UpstreamWire != config.UpstreamWireResponses

	switch {
	case incoming == schemaResponses && upstreamIsChat:
		out, err := bridge.ResponsesToChat(req, stream)
		return out, asBridgeError(err)
	case incoming == schemaResponses && !upstreamIsChat:
		return bridge.PassthroughResponses(req, stream), nil
	case incoming == schemaChat && upstreamIsChat:
		return bridge.PassthroughChat(req, stream), nil
	default: // schemaChat && upstream responses
		out, err := bridge.ChatToResponses(req, stream)
		return out, asBridgeError(err)
	}
}

func asBridgeError(err error) *bridge.Error {
	if err == nil {
		return nil
	}
	if be, ok := err.(*bridge.Error); ok {
		return be
	}
	return bridge.NewInvalidRequestError(err.Error())
}

// callUpstream POSTs payload to the configured upstream with bearer auth
// and the fixed set of forwarded headers. Verbose logging redacts the
// bearer token.
func (d *Dispatcher) callUpstream(ctx context.Context, payload bridge.JSON, r *http.Request) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.UpstreamURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")
	for _, h := range forwardedHeaders {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}

	if d.cfg.VerboseLogging {
		slog.Info("upstream request",
			"url", d.cfg.UpstreamURL,
			"authorization", redactedBearer(d.apiKey),
			"body", string(body),
		)
	}

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	observability.UpstreamLatency.WithLabelValues(d.cfg.UpstreamWire).Observe(time.Since(start).Seconds())
	return resp, err
}

func redactedBearer(key string) string {
	if key == "" {
		return "<empty>"
	}
	return "<redacted>"
}

// streamResponse translates the upstream SSE body into the caller's
// expected event framing and writes it directly to w.
func (d *Dispatcher) streamResponse(w http.ResponseWriter, ctx context.Context, body io.Reader, incoming schema, responseID string) {
	observability.StreamingConnections.Inc()
	defer observability.StreamingConnections.Dec()

	upstreamIsChat := d.cfg.UpstreamWire != config.UpstreamWireResponses

	switch {
	case incoming == schemaResponses && upstreamIsChat:
		sink := newSSEWriter(w)
		if err := bridge.StreamChatToResponses(ctx, body, responseID, sink); err != nil {
			slog.Warn("streaming response interrupted", "error", err.Error())
		}

	case incoming == schemaResponses && !upstreamIsChat:
		writeSSEHeaders(w)
		rc := http.NewResponseController(w)
		if err := bridge.StreamResponsesPassthrough(ctx, body, responseID, w, rc.Flush); err != nil {
			slog.Warn("streaming passthrough interrupted", "error", err.Error())
		}

	case incoming == schemaChat && upstreamIsChat:
		writeSSEHeaders(w)
		rc := http.NewResponseController(w)
		if err := bridge.StreamChatPassthrough(ctx, body, w, rc.Flush); err != nil {
			slog.Warn("streaming passthrough interrupted", "error", err.Error())
		}

	default: // schemaChat && upstream responses
		writeSSEHeaders(w)
		rc := http.NewResponseController(w)
		if err := bridge.StreamResponsesToChat(ctx, body, w, rc.Flush); err != nil {
			slog.Warn("streaming translation interrupted", "error", err.Error())
		}
	}
}

func writeSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

// unaryResponse parses the full upstream JSON document and transcodes it
// if the upstream schema differs from the caller's expected schema.
func (d *Dispatcher) unaryResponse(w http.ResponseWriter, body io.Reader, incoming schema, responseID string) {
	raw, err := io.ReadAll(body)
	if err != nil {
		d.writeUnaryError(w, bridge.NewUpstreamDecodeError(err.Error()))
		return
	}

	var parsed bridge.JSON
	if err := json.Unmarshal(raw, &parsed); err != nil {
		d.writeUnaryError(w, bridge.NewUpstreamDecodeError("upstream response was not valid JSON: "+err.Error()))
		return
	}

	upstreamIsChat := d.cfg.UpstreamWire != config.UpstreamWireResponses

	var out bridge.JSON
	switch {
	case incoming == schemaChat && upstreamIsChat:
		out = parsed
	case incoming == schemaResponses && !upstreamIsChat:
		out = parsed
	case incoming == schemaResponses && upstreamIsChat:
		out = bridge.ChatJSONToResponses(parsed, responseID)
	default: // schemaChat && upstream responses
		out = bridge.ResponsesJSONToChat(parsed)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(out)
}

// writeModeError frames berr in whichever mode the caller expects:
// streaming (SSE) or unary (a JSON body), always with HTTP 200 per
// spec.md §7 — the logical error lives inside the body, not the status.
func (d *Dispatcher) writeModeError(w http.ResponseWriter, incoming schema, streamMode bool, berr *bridge.Error) {
	if !streamMode {
		d.writeUnaryError(w, berr)
		return
	}
	d.writeSSEError(w, incoming, berr)
}

// writeSSEError emits the failure as a Responses-shaped SSE stream
// (response.created immediately followed by response.failed, even for
// failures that occur before any upstream call is made) for a Responses
// caller, or as a single Chat-shaped error chunk followed by [DONE] for
// a Chat caller that requested streaming.
func (d *Dispatcher) writeSSEError(w http.ResponseWriter, incoming schema, berr *bridge.Error) {
	if incoming == schemaResponses {
		sink := newSSEWriter(w)
		responseID := bridge.NewResponseID()
		_ = sink.WriteEvent("response.created", bridge.JSON{
			"type":     "response.created",
			"response": bridge.JSON{"id": responseID},
		})
		_ = sink.WriteEvent("response.failed", berr.SSEFailedPayload(responseID))
		return
	}

	writeSSEHeaders(w)
	data, _ := json.Marshal(berr.UnaryPayload())
	fmt.Fprintf(w, "data: %s\n\n", data)
	fmt.Fprint(w, "data: [DONE]\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func (d *Dispatcher) writeUnaryError(w http.ResponseWriter, berr *bridge.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(berr.UnaryPayload())
}
