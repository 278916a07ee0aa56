// Package gatewaytest provides an in-process confirmation gateway that
// implements the build, register, status, pending and stream endpoints.
// Tests drive transaction states with SetState; the txflow dev-gateway
// command serves it with automatic state progression.
package gatewaytest

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/altuslabsxyz/txflow/pkg/gateway"
	"github.com/altuslabsxyz/txflow/pkg/txhash"
)

// BuildFunc overrides how /tx/build answers.
type BuildFunc func(req gateway.BuildRequest) (*gateway.UnsignedTx, error)

type record struct {
	status     gateway.TxStatus
	metadata   map[string]any
	registered time.Time
}

type fault struct {
	status    int
	remaining int
}

// Server is a fake gateway.
type Server struct {
	// URL is set by Start.
	URL string

	router   chi.Router
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu          sync.Mutex
	txs         map[string]*record
	subs        map[string]map[*subscriber]struct{}
	hits        map[string]int
	streamOpens map[string]int
	faults      map[string]*fault
	token       string
	buildFn     BuildFunc
	registerRes map[string]gateway.RegisterResponse
	pendingCode int
	streaming   bool
	advance     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type subscriber struct {
	updates chan gateway.TxStatus
	kill    chan struct{}
	once    sync.Once
}

func (s *subscriber) drop() { s.once.Do(func() { close(s.kill) }) }

// Option configures a Server.
type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every endpoint.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithoutStreaming makes /tx/stream/{hash} answer 404, as a gateway without
// push support would.
func WithoutStreaming() Option {
	return func(s *Server) { s.streaming = false }
}

// WithAutoAdvance moves every registered transaction one state forward
// (pending, confirmed, updated) each step.
func WithAutoAdvance(step time.Duration) Option {
	return func(s *Server) { s.advance = step }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a fake gateway. Serve its Handler or use Start.
func New(opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		upgrader:    websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:      slog.Default(),
		txs:         make(map[string]*record),
		subs:        make(map[string]map[*subscriber]struct{}),
		hits:        make(map[string]int),
		streamOpens: make(map[string]int),
		faults:      make(map[string]*fault),
		registerRes: make(map[string]gateway.RegisterResponse),
		streaming:   true,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Start serves a new fake gateway on an httptest server that is closed when
// the test ends.
func Start(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := New(opts...)
	ts := httptest.NewServer(s.Handler())
	s.URL = ts.URL
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Close drops all streams and stops auto-advance goroutines.
func (s *Server) Close() {
	s.cancel()
	s.mu.Lock()
	for _, set := range s.subs {
		for sub := range set {
			sub.drop()
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.count)
	r.Use(s.injectFaults)
	r.Use(s.auth)
	r.Route("/tx", func(tx chi.Router) {
		tx.Post("/build", s.handleBuild)
		tx.Post("/register", s.handleRegister)
		tx.Get("/status/{hash}", s.handleStatus)
		tx.Get("/pending", s.handlePending)
		tx.Get("/stream/{hash}", s.handleStream)
	})
	return r
}

// route collapses path parameters so counters and faults key on the endpoint.
func route(path string) string {
	for _, prefix := range []string{"/tx/status/", "/tx/stream/"} {
		if strings.HasPrefix(path, prefix) {
			return prefix + "{hash}"
		}
	}
	return path
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[route(r.URL.Path)]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		f := s.faults[route(r.URL.Path)]
		status := 0
		if f != nil && f.remaining != 0 {
			status = f.status
			if f.remaining > 0 {
				f.remaining--
			}
		}
		s.mu.Unlock()
		if status != 0 {
			writeError(w, status, "INJECTED", http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing or invalid session token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req gateway.BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if req.TxType == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "tx_type is required")
		return
	}
	s.mu.Lock()
	fn := s.buildFn
	s.mu.Unlock()
	if fn == nil {
		fn = defaultBuild
	}
	out, err := fn(req)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "BUILD_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func defaultBuild(req gateway.BuildRequest) (*gateway.UnsignedTx, error) {
	body, err := txhash.Canonical(map[string]any{
		"tx_type":        req.TxType,
		"params":         req.Params,
		"change_address": req.ChangeAddress,
	})
	if err != nil {
		return nil, err
	}
	return &gateway.UnsignedTx{
		TxType:        req.TxType,
		Payload:       hex.EncodeToString(body),
		ContentHashes: map[string]string{"params": txhash.MustCompute(req.Params)},
	}, nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req gateway.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if req.TxHash == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "tx_hash is required")
		return
	}

	s.mu.Lock()
	res, ok := s.registerRes[req.TxType]
	if !ok {
		res = gateway.RegisterResponse{RequiresDBUpdate: true, RequiresOnChainConfirmation: true}
	}
	if _, exists := s.txs[req.TxHash]; !exists {
		s.txs[req.TxHash] = &record{
			status:     gateway.TxStatus{TxHash: req.TxHash, TxType: req.TxType, State: gateway.TxStatePending},
			metadata:   req.Metadata,
			registered: time.Now(),
		}
		if s.advance > 0 {
			s.wg.Add(1)
			go s.autoAdvance(req.TxHash)
		}
	}
	s.mu.Unlock()

	if content, ok := req.Metadata["content"].(map[string]any); ok {
		api := make(map[string]any, len(res.APIResponse)+1)
		for k, v := range res.APIResponse {
			api[k] = v
		}
		if _, set := api["hashes"]; !set {
			api["hashes"] = contentHashes(content)
		}
		res.APIResponse = api
	}
	writeJSON(w, http.StatusOK, res)
}

// contentHashes fingerprints each content payload server-side.
func contentHashes(content map[string]any) map[string]any {
	out := make(map[string]any, len(content))
	for name, payload := range content {
		h, err := txhash.Compute(payload)
		if err != nil {
			continue
		}
		out[name] = h
	}
	return out
}

func (s *Server) autoAdvance(hash string) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.advance)
	defer ticker.Stop()
	for _, next := range []gateway.TxState{gateway.TxStateConfirmed, gateway.TxStateUpdated} {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		s.SetState(hash, next, "")
		s.logger.Info("advanced transaction", "txHash", hash, "state", next)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	s.mu.Lock()
	rec, ok := s.txs[hash]
	var st gateway.TxStatus
	if ok {
		st = rec.status
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown transaction")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	code := s.pendingCode
	recs := make([]*record, 0, len(s.txs))
	for _, rec := range s.txs {
		if !rec.status.State.IsTerminal() {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].registered.Before(recs[j].registered) })
	list := make([]gateway.TxStatus, len(recs))
	for i, rec := range recs {
		list[i] = rec.status
	}
	s.mu.Unlock()

	switch {
	case code != 0:
		writeError(w, code, "PENDING", http.StatusText(code))
	case len(list) == 0:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no pending transactions")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"transactions": list})
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.streaming {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "streaming not supported")
		return
	}
	hash := chi.URLParam(r, "hash")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := &subscriber{updates: make(chan gateway.TxStatus, 16), kill: make(chan struct{})}
	s.mu.Lock()
	s.streamOpens[hash]++
	if s.subs[hash] == nil {
		s.subs[hash] = make(map[*subscriber]struct{})
	}
	s.subs[hash][sub] = struct{}{}
	current, known := s.txs[hash]
	var first gateway.TxStatus
	if known {
		first = current.status
	}
	s.mu.Unlock()
	defer s.unsubscribe(hash, sub)

	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(st gateway.TxStatus) bool {
		if err := conn.WriteJSON(st); err != nil {
			return false
		}
		if st.State.IsTerminal() {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "terminal"))
			return false
		}
		return true
	}
	if known && !send(first) {
		return
	}
	for {
		select {
		case st := <-sub.updates:
			if !send(st) {
				return
			}
		case <-sub.kill:
			return
		case <-clientGone:
			return
		}
	}
}

func (s *Server) unsubscribe(hash string, sub *subscriber) {
	sub.drop()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[hash], sub)
	if len(s.subs[hash]) == 0 {
		delete(s.subs, hash)
	}
}

// SetState records a new state for hash, registering it if unknown, and
// pushes it to open streams.
func (s *Server) SetState(hash string, state gateway.TxState, lastError string) {
	s.mu.Lock()
	rec, ok := s.txs[hash]
	if !ok {
		rec = &record{status: gateway.TxStatus{TxHash: hash}, registered: time.Now()}
		s.txs[hash] = rec
	}
	rec.status.State = state
	rec.status.LastError = lastError
	if state == gateway.TxStateConfirmed || state == gateway.TxStateUpdated {
		if rec.status.ConfirmedAt == nil {
			now := time.Now().UTC()
			rec.status.ConfirmedAt = &now
		}
	}
	st := rec.status
	subs := make([]*subscriber, 0, len(s.subs[hash]))
	for sub := range s.subs[hash] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.updates <- st:
		case <-sub.kill:
		}
	}
}

// Push sends st to open streams for st.TxHash without recording it. Used to
// simulate stale or duplicate pushes.
func (s *Server) Push(st gateway.TxStatus) {
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subs[st.TxHash]))
	for sub := range s.subs[st.TxHash] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		select {
		case sub.updates <- st:
		case <-sub.kill:
		}
	}
}

// DropStreams abruptly closes every open stream for hash.
func (s *Server) DropStreams(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs[hash] {
		sub.drop()
	}
}

// Status returns the recorded status for hash.
func (s *Server) Status(hash string) (gateway.TxStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.txs[hash]
	if !ok {
		return gateway.TxStatus{}, false
	}
	return rec.status, true
}

// Metadata returns the metadata registered with hash.
func (s *Server) Metadata(hash string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.txs[hash]; ok {
		return rec.metadata
	}
	return nil
}

// Registered reports whether hash was registered.
func (s *Server) Registered(hash string) bool {
	_, ok := s.Status(hash)
	return ok
}

// Hits returns how many requests reached path, e.g. "/tx/build" or
// "/tx/status/{hash}".
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// StreamOpens returns how many stream connections were opened for hash.
func (s *Server) StreamOpens(hash string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamOpens[hash]
}

// OpenStreams returns how many stream connections are currently open for hash.
func (s *Server) OpenStreams(hash string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[hash])
}

// FailNext makes the next n requests to path answer status. n < 0 fails
// every request until cleared with n = 0.
func (s *Server) FailNext(path string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == 0 {
		delete(s.faults, path)
		return
	}
	s.faults[path] = &fault{status: status, remaining: n}
}

// SetBuildFunc overrides /tx/build.
func (s *Server) SetBuildFunc(fn BuildFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buildFn = fn
}

// SetRegisterResponse sets the /tx/register answer for txType.
func (s *Server) SetRegisterResponse(txType string, res gateway.RegisterResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registerRes[txType] = res
}

// SetPendingStatus forces /tx/pending to answer code. Zero restores normal
// behaviour.
func (s *Server) SetPendingStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingCode = code
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error":      map[string]any{"code": code, "message": message},
		"request_id": uuid.NewString(),
	})
}
