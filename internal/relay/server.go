package relay

import (
	"bufio"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/op/go-logging.v1"

	"parley/internal/crypto"
	"parley/internal/domain"
	plog "parley/internal/log"
)

const (
	maxBodyBytes     = 1 << 20
	defaultQueueSize = 1000
	writeWait        = 10 * time.Second
)

type account struct {
	publicKey []byte
	token     string
}

// subscriber receives the latest pending count for one websocket stream.
type subscriber struct {
	ch chan int
}

// offer replaces any undelivered count with n.
func (s *subscriber) offer(n int) {
	select {
	case <-s.ch:
	default:
	}
	s.ch <- n
}

// Server is an in-memory relay: a public key directory plus one envelope
// queue per user, with websocket notifications when a queue grows.
type Server struct {
	log     *logging.Logger
	metrics *metrics
	router  *mux.Router

	maxQueue int
	upgrader websocket.Upgrader

	mu       sync.Mutex
	accounts map[domain.Username]*account
	queues   map[domain.Username][]domain.Envelope
	subs     map[domain.Username]map[*subscriber]struct{}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *logging.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithMaxQueue bounds the number of envelopes held per recipient.
func WithMaxQueue(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxQueue = n
		}
	}
}

// NewServer returns a relay with empty state.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		metrics:  newMetrics(),
		maxQueue: defaultQueueSize,
		accounts: make(map[domain.Username]*account),
		queues:   make(map[domain.Username][]domain.Envelope),
		subs:     make(map[domain.Username]map[*subscriber]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = plog.Discard().GetLogger("relay")
	}

	r := mux.NewRouter()
	r.Use(s.accessLog)
	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/keys/{user}", s.handleLookup).Methods(http.MethodGet)
	r.HandleFunc("/msg/{user}", s.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/msg/{user}", s.handleFetch).Methods(http.MethodGet)
	r.HandleFunc("/msg/{user}/ack", s.handleAck).Methods(http.MethodPost)
	r.HandleFunc("/ws/{user}", s.handleSubscribe).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Username == "" {
		s.reject(w, "bad_request", http.StatusBadRequest, "username required")
		return
	}
	if _, err := crypto.ImportPublicKey(req.PublicKey); err != nil {
		s.reject(w, "bad_key", http.StatusBadRequest, "unusable public key")
		return
	}

	s.mu.Lock()
	acct, exists := s.accounts[req.Username]
	if exists && !tokenMatches(r, acct.token) {
		s.mu.Unlock()
		s.reject(w, "conflict", http.StatusConflict, "username taken")
		return
	}
	if !exists {
		acct = &account{token: uuid.NewString()}
		s.accounts[req.Username] = acct
	}
	acct.publicKey = append([]byte(nil), req.PublicKey...)
	token := acct.token
	s.mu.Unlock()

	s.metrics.registrations.Inc()
	fp := crypto.Fingerprint(req.PublicKey)
	if exists {
		s.log.Noticef("Updated public key for %s (%s)", req.Username, fp)
	} else {
		s.log.Noticef("Registered %s (%s)", req.Username, fp)
	}
	writeJSON(w, http.StatusOK, registerResponse{Token: token})
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	user := domain.Username(mux.Vars(r)["user"])

	s.mu.Lock()
	acct, ok := s.accounts[user]
	var pub []byte
	if ok {
		pub = append([]byte(nil), acct.publicKey...)
	}
	s.mu.Unlock()

	if !ok {
		s.metrics.lookups.WithLabelValues("not_found").Inc()
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.metrics.lookups.WithLabelValues("found").Inc()
	writeJSON(w, http.StatusOK, keyResponse{Username: user, PublicKey: pub})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	to := domain.Username(mux.Vars(r)["user"])
	var env domain.Envelope
	if !s.decode(w, r, &env) {
		return
	}
	if env.To != to {
		s.reject(w, "bad_request", http.StatusBadRequest, "recipient does not match path")
		return
	}
	if env.Ciphertext == "" || env.IV == "" {
		s.reject(w, "bad_request", http.StatusBadRequest, "ciphertext and iv required")
		return
	}
	if !s.authorized(r, env.From) {
		s.reject(w, "unauthorized", http.StatusUnauthorized, "sender token required")
		return
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}

	s.mu.Lock()
	if _, ok := s.accounts[to]; !ok {
		s.mu.Unlock()
		s.reject(w, "unknown_recipient", http.StatusNotFound, "unknown recipient")
		return
	}
	if len(s.queues[to]) >= s.maxQueue {
		s.mu.Unlock()
		s.reject(w, "queue_full", http.StatusTooManyRequests, "recipient queue full")
		return
	}
	s.queues[to] = append(s.queues[to], env)
	pending := len(s.queues[to])
	s.notifyLocked(to, pending)
	s.mu.Unlock()

	s.metrics.enqueued.Inc()
	if env.CarriesKey() {
		s.metrics.keyCarrying.Inc()
	}
	s.log.Debugf("Queued %s from %s to %s (%d pending)", env.ID, env.From, to, pending)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": env.ID})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	user := domain.Username(mux.Vars(r)["user"])
	if !s.authorized(r, user) {
		s.reject(w, "unauthorized", http.StatusUnauthorized, "token required")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.reject(w, "bad_request", http.StatusBadRequest, "bad limit")
			return
		}
		limit = n
	}

	s.mu.Lock()
	q := s.queues[user]
	if limit > 0 && limit < len(q) {
		q = q[:limit]
	}
	out := make([]domain.Envelope, len(q))
	copy(out, q)
	s.mu.Unlock()

	s.metrics.fetched.Add(float64(len(out)))
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	user := domain.Username(mux.Vars(r)["user"])
	if !s.authorized(r, user) {
		s.reject(w, "unauthorized", http.StatusUnauthorized, "token required")
		return
	}
	var req ackRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Count < 0 {
		s.reject(w, "bad_request", http.StatusBadRequest, "negative count")
		return
	}

	s.mu.Lock()
	q := s.queues[user]
	n := req.Count
	if n > len(q) {
		n = len(q)
	}
	s.queues[user] = append([]domain.Envelope(nil), q[n:]...)
	pending := len(s.queues[user])
	s.notifyLocked(user, pending)
	s.mu.Unlock()

	s.metrics.acked.Add(float64(n))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	user := domain.Username(mux.Vars(r)["user"])
	if !s.authorized(r, user) {
		s.reject(w, "unauthorized", http.StatusUnauthorized, "token required")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warningf("Websocket upgrade for %s failed: %v", user, err)
		return
	}
	defer conn.Close()

	sub := &subscriber{ch: make(chan int, 1)}
	s.mu.Lock()
	if s.subs[user] == nil {
		s.subs[user] = make(map[*subscriber]struct{})
	}
	s.subs[user][sub] = struct{}{}
	sub.offer(len(s.queues[user]))
	s.mu.Unlock()
	s.metrics.subscribers.Inc()
	s.log.Debugf("Subscriber attached for %s", user)

	defer func() {
		s.mu.Lock()
		delete(s.subs[user], sub)
		if len(s.subs[user]) == 0 {
			delete(s.subs, user)
		}
		s.mu.Unlock()
		s.metrics.subscribers.Dec()
		s.log.Debugf("Subscriber detached for %s", user)
	}()

	// The client never sends anything; reading only detects the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case n := <-sub.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(notice{Pending: n}); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// Pending returns the queue length for user.
func (s *Server) Pending(user domain.Username) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[user])
}

func (s *Server) notifyLocked(user domain.Username, pending int) {
	for sub := range s.subs[user] {
		sub.offer(pending)
	}
}

func (s *Server) authorized(r *http.Request, user domain.Username) bool {
	s.mu.Lock()
	acct, ok := s.accounts[user]
	var want string
	if ok {
		want = acct.token
	}
	s.mu.Unlock()
	return ok && tokenMatches(r, want)
}

func tokenMatches(r *http.Request, want string) bool {
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(out); err != nil {
		s.reject(w, "bad_request", http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}

func (s *Server) reject(w http.ResponseWriter, reason string, code int, msg string) {
	s.metrics.rejected.WithLabelValues(reason).Inc()
	http.Error(w, msg, code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusWriter records the response status for the access log. It passes
// Hijack through so websocket upgrades still work.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Debugf("%s %s %d %v", r.Method, r.URL.Path, sw.status, time.Since(start))
	})
}
