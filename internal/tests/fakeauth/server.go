// Package fakeauth runs in-process Auth, Chat and Documents APIs for tests.
//
// Access tokens are HS256 JWTs, refresh tokens are opaque random strings.
// All three APIs share one httptest.Server, so a test can point every
// base URL at Server.URL.
package fakeauth

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yndnr/chatdesk/pkg/token"
)

// Default test account.
const (
	DefaultUser     = "alice"
	DefaultPassword = "wonderland"
)

// Server is a fake backend.
type Server struct {
	*httptest.Server

	key []byte

	mu            sync.Mutex
	users         map[string]string
	expiresIn     int64
	rotate        bool
	refreshStatus int
	access        map[string]string // access token -> user
	refresh       map[string]string // refresh token -> user
	conversations map[string]*conversation
	documents     map[string]*Document
	tokenCalls    int
	refreshCalls  int
	lastRequestID string
}

type conversation struct {
	ID        string
	Title     string
	User      string
	UpdatedAt time.Time
	Messages  []Message
}

// Message is a stored chat message.
type Message struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Document is a stored document as the Documents API reports it.
type Document struct {
	ID          string `json:"document_id"`
	Name        string `json:"document_name"`
	Status      string `json:"document_status"`
	CreatedAt   string `json:"created_at"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// Option configures a Server.
type Option func(*Server)

// WithUser adds an account.
func WithUser(username, password string) Option {
	return func(s *Server) { s.users[username] = password }
}

// WithExpiresIn sets the expires_in returned by both exchanges.
// Zero omits the field.
func WithExpiresIn(seconds int64) Option {
	return func(s *Server) { s.expiresIn = seconds }
}

// WithoutRotation makes refresh responses omit refresh_token.
func WithoutRotation() Option {
	return func(s *Server) { s.rotate = false }
}

// New starts a server and stops it when the test ends.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		key:           []byte(uuid.NewString()),
		users:         map[string]string{DefaultUser: DefaultPassword},
		expiresIn:     1800,
		rotate:        true,
		access:        make(map[string]string),
		refresh:       make(map[string]string),
		conversations: make(map[string]*conversation),
		documents:     make(map[string]*Document),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/Auth/token", s.handleToken)
	mux.HandleFunc("POST /api/v1/Auth/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/v1/Chat/history", s.authed(s.handleHistories))
	mux.HandleFunc("GET /api/v1/Chat/history/{id}", s.authed(s.handleMessages))
	mux.HandleFunc("POST /api/v1/Chat/message", s.authed(s.handleSend))
	mux.HandleFunc("GET /api/v1/Documents/list_documents", s.authed(s.handleList))
	mux.HandleFunc("POST /api/v1/Documents/ingest_document", s.authed(s.handleIngest))
	mux.HandleFunc("GET /api/v1/Documents/consult_document", s.authed(s.handleConsult))
	mux.HandleFunc("PUT /api/v1/Documents/update_document", s.authed(s.handleUpdate))
	mux.HandleFunc("DELETE /api/v1/Documents/delete_document", s.authed(s.handleDelete))

	s.Server = httptest.NewServer(s.recordRequestID(mux))
	t.Cleanup(s.Close)
	return s
}

// ============================================================================
// Test controls
// ============================================================================

// SetRefreshStatus makes every refresh answer with status. Zero restores
// normal behavior.
func (s *Server) SetRefreshStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshStatus = status
}

// SetExpiresIn changes expires_in for subsequent exchanges.
func (s *Server) SetExpiresIn(seconds int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresIn = seconds
}

// RevokeAll invalidates every issued access token, so API calls answer 401.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = make(map[string]string)
}

// TokenCalls returns how many login exchanges were served.
func (s *Server) TokenCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenCalls
}

// RefreshCalls returns how many refresh exchanges were served.
func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// LastRequestID returns the X-Request-ID of the latest request.
func (s *Server) LastRequestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRequestID
}

// Documents returns a snapshot of stored documents ordered by id.
func (s *Server) Documents() []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Document, 0, len(s.documents))
	for _, d := range s.documents {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ============================================================================
// Auth API
// ============================================================================

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	user, pass := r.PostFormValue("username"), r.PostFormValue("password")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenCalls++

	want, ok := s.users[user]
	if !ok || !token.Equal(want, pass) {
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}
	grant, err := s.issueLocked(user, true)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	presented := r.PostFormValue("refresh_token")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshCalls++

	if s.refreshStatus != 0 {
		writeDetail(w, s.refreshStatus, "refresh rejected")
		return
	}

	var user, matched string
	for rt, u := range s.refresh {
		if token.Equal(rt, presented) {
			user, matched = u, rt
		}
	}
	if matched == "" {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	if s.rotate {
		delete(s.refresh, matched)
	}
	grant, err := s.issueLocked(user, s.rotate)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

// issueLocked mints an access token and, when withRefresh, a refresh token.
func (s *Server) issueLocked(user string, withRefresh bool) (map[string]any, error) {
	now := time.Now()
	lifetime := s.expiresIn
	if lifetime <= 0 {
		lifetime = 1800
	}
	claims := jwt.RegisteredClaims{
		Subject:   user,
		Issuer:    "fakeauth",
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(lifetime) * time.Second)),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	s.access[access] = user

	grant := map[string]any{"access_token": access, "token_type": "bearer"}
	if s.expiresIn > 0 {
		grant["expires_in"] = s.expiresIn
	}
	if withRefresh {
		rt, err := token.Generate()
		if err != nil {
			return nil, fmt.Errorf("generate refresh token: %w", err)
		}
		s.refresh[rt] = user
		grant["refresh_token"] = rt
	}
	return grant, nil
}

// authed rejects requests without a live bearer token.
func (s *Server) authed(next func(w http.ResponseWriter, r *http.Request, user string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		_, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return s.key, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		s.mu.Lock()
		user, live := s.access[raw]
		s.mu.Unlock()
		if !live {
			writeDetail(w, http.StatusUnauthorized, "Token revoked")
			return
		}
		next(w, r, user)
	}
}

func (s *Server) recordRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.lastRequestID = r.Header.Get("X-Request-ID")
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// ============================================================================
// Chat API
// ============================================================================

func (s *Server) handleHistories(w http.ResponseWriter, r *http.Request, user string) {
	limit := intParam(r, "limit", 20)

	s.mu.Lock()
	convs := make([]*conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		if c.User == user {
			convs = append(convs, c)
		}
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].UpdatedAt.After(convs[j].UpdatedAt) })
	if len(convs) > limit {
		convs = convs[:limit]
	}
	out := make([]map[string]any, 0, len(convs))
	for _, c := range convs {
		out = append(out, map[string]any{
			"conversation_id": c.ID,
			"title":           c.Title,
			"updated_at":      c.UpdatedAt.Format(time.RFC3339),
		})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, user string) {
	limit := intParam(r, "limit", 50)

	s.mu.Lock()
	c, ok := s.conversations[r.PathValue("id")]
	var msgs []Message
	if ok && c.User == user {
		msgs = append(msgs, c.Messages...)
	}
	s.mu.Unlock()

	if !ok || c.User != user {
		writeDetail(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, user string) {
	var body struct {
		Message        string  `json:"message"`
		ConversationID *string `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Message) == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "message is required")
		return
	}

	now := time.Now().UTC()
	reply := "echo: " + body.Message

	s.mu.Lock()
	var c *conversation
	if body.ConversationID != nil && *body.ConversationID != "" {
		c = s.conversations[*body.ConversationID]
		if c == nil || c.User != user {
			s.mu.Unlock()
			writeDetail(w, http.StatusNotFound, "Conversation not found")
			return
		}
	} else {
		c = &conversation{ID: uuid.NewString(), Title: title(body.Message), User: user}
		s.conversations[c.ID] = c
	}
	c.UpdatedAt = now
	c.Messages = append(c.Messages,
		Message{ID: uuid.NewString(), Role: "user", Content: body.Message, Timestamp: now.Format(time.RFC3339)},
		Message{ID: uuid.NewString(), Role: "assistant", Content: reply, Timestamp: now.Format(time.RFC3339)},
	)
	resp := map[string]any{
		"conversation_id": c.ID,
		"response":        reply,
		"timestamp":       now.Format(time.RFC3339),
		"title":           c.Title,
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func title(message string) string {
	const limit = 32
	if len(message) <= limit {
		return message
	}
	return message[:limit] + "..."
}

// ============================================================================
// Documents API
// ============================================================================

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, _ string) {
	page := intParam(r, "page", 1)
	size := intParam(r, "size", 10)

	docs := s.Documents()
	totalPages := (len(docs) + size - 1) / size
	if totalPages == 0 {
		totalPages = 1
	}
	start := (page - 1) * size
	if start > len(docs) {
		start = len(docs)
	}
	end := start + size
	if end > len(docs) {
		end = len(docs)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      docs[start:end],
		"totalPages": totalPages,
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request, _ string) {
	doc, ok := readUpload(w, r)
	if !ok {
		return
	}
	doc.ID = uuid.NewString()
	doc.Status = "processing"
	doc.CreatedAt = time.Now().UTC().Format(time.RFC3339)

	s.mu.Lock()
	s.documents[doc.ID] = doc
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"Document": map[string]any{"id": doc.ID}})
}

func (s *Server) handleConsult(w http.ResponseWriter, r *http.Request, _ string) {
	id := r.URL.Query().Get("document_id")

	s.mu.Lock()
	doc, ok := s.documents[id]
	var out Document
	if ok {
		doc.Status = "processed"
		out = *doc
	}
	s.mu.Unlock()

	if !ok {
		writeDetail(w, http.StatusNotFound, "Document not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, _ string) {
	upload, ok := readUpload(w, r)
	if !ok {
		return
	}
	id := r.FormValue("document_id")

	s.mu.Lock()
	doc, found := s.documents[id]
	if found {
		doc.Name = upload.Name
		doc.ContentType = upload.ContentType
		doc.Size = upload.Size
		doc.Status = "processing"
	}
	s.mu.Unlock()

	if !found {
		writeDetail(w, http.StatusNotFound, "Document not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document_id": id, "status": "updated"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, _ string) {
	id := r.URL.Query().Get("document_id")

	s.mu.Lock()
	_, ok := s.documents[id]
	delete(s.documents, id)
	s.mu.Unlock()

	if !ok {
		writeDetail(w, http.StatusNotFound, "Document not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func readUpload(w http.ResponseWriter, r *http.Request) (*Document, bool) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeDetail(w, http.StatusBadRequest, "multipart form required")
		return nil, false
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "file is required")
		return nil, false
	}
	defer f.Close()
	n, err := io.Copy(io.Discard, f)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "read file")
		return nil, false
	}
	return &Document{
		Name:        hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Size:        int(n),
	}, true
}

// ============================================================================
// Helpers
// ============================================================================

func intParam(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
