// Package testserver hosts an in-memory implementation of the slidehub REST
// surface for tests and local development. It is deliberately small: one
// RWMutex around plain maps, no persistence.
package testserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mssola/useragent"
	"golang.org/x/crypto/bcrypt"
)

// TokenHeader mirrors the client's token header name without importing the
// client packages.
const TokenHeader = "X-Slidehub-Token"

// User is one registered account.
type User struct {
	Username     string
	passwordHash []byte
	UserID       string
	OrgID        string
	Roles        []string
}

// SessionInfo records a successful login and the device label derived from
// the User-Agent header.
type SessionInfo struct {
	UserID  string
	Device  string
	Browser string
}

type snapshot struct {
	Timestamp int64
	Payload   []byte
}

// ChunkRecord is one received upload chunk.
type ChunkRecord struct {
	Chunk     int
	ChunkSize int64
	FileSize  int64
	Bytes     int
}

// Server holds all state. Zero value is not usable; call New.
type Server struct {
	mu         sync.RWMutex
	signingKey []byte

	users     map[string]*User            // by username
	perms     map[string]map[string]bool  // userID -> resourceID -> writable
	projects  map[string][]byte           // latest payload by id
	snaps     map[string][]snapshot       // saved versions by id
	slides    map[string]map[string]string
	uploads   map[string][]ChunkRecord    // by filename
	resources map[string]map[string]json.RawMessage // collection -> id -> doc
	backups   []Backup
	restored  []Backup
	sessions  []SessionInfo

	httpServer *httptest.Server
}

// Backup describes one stored backup snapshot.
type Backup struct {
	Filename  string `json:"filename"`
	Timestamp int64  `json:"timestamp"`
}

func New() *Server {
	s := &Server{
		signingKey: []byte("testserver-signing-key"),
		users:      map[string]*User{},
		perms:      map[string]map[string]bool{},
		projects:   map[string][]byte{},
		snaps:      map[string][]snapshot{},
		slides:     map[string]map[string]string{},
		uploads:    map[string][]ChunkRecord{},
		resources: map[string]map[string]json.RawMessage{
			"workspaces":    {},
			"subjects":      {},
			"organizations": {},
			"users":         {},
		},
	}
	s.httpServer = httptest.NewServer(s.router())
	return s
}

// URL returns the base URL clients should point at.
func (s *Server) URL() string { return s.httpServer.URL }

func (s *Server) Close() { s.httpServer.Close() }

// AddUser registers an account with a bcrypt-hashed password.
func (s *Server) AddUser(username, password, userID, orgID string, roles ...string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &User{
		Username:     username,
		passwordHash: hash,
		UserID:       userID,
		OrgID:        orgID,
		Roles:        roles,
	}
	return nil
}

// GrantWrite marks a resource writable for a user.
func (s *Server) GrantWrite(userID, resourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.perms[userID] == nil {
		s.perms[userID] = map[string]bool{}
	}
	s.perms[userID][resourceID] = true
}

// PutProject stores a project payload directly, bypassing auth.
func (s *Server) PutProject(id string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeProjectLocked(id, payload)
}

func (s *Server) storeProjectLocked(id string, payload []byte) {
	s.projects[id] = payload
	s.snaps[id] = append(s.snaps[id], snapshot{
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	})
}

// ProjectDoc returns the latest stored payload for id.
func (s *Server) ProjectDoc(id string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.projects[id]
	return doc, ok
}

// AddSlide registers a slide properties document.
func (s *Server) AddSlide(id string, properties map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slides[id] = properties
}

// AddBackup registers a backup entry.
func (s *Server) AddBackup(filename string, timestamp int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backups = append(s.backups, Backup{Filename: filename, Timestamp: timestamp})
}

// Restored lists the backups that clients asked to restore.
func (s *Server) Restored() []Backup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Backup(nil), s.restored...)
}

// Uploads returns the chunks received for a filename, ordered by arrival.
func (s *Server) Uploads(filename string) []ChunkRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ChunkRecord(nil), s.uploads[filename]...)
}

// Sessions returns recorded logins.
func (s *Server) Sessions() []SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SessionInfo(nil), s.sessions...)
}

// IssueToken signs an HS256 token carrying identity and role claims, the
// same shape the production server hands out after a token-mode login.
func (s *Server) IssueToken(userID, orgID string, roles []string) (string, error) {
	claims := jwt.MapClaims{
		"sub":   userID,
		"org":   orgID,
		"roles": roles,
		"iat":   time.Now().Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

// currentUser resolves the request's identity: basic credentials against
// bcrypt hashes, or a signed token. Returns nil for guest/anonymous.
func (s *Server) currentUser(r *http.Request) *User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if username, password, ok := r.BasicAuth(); ok {
		user, found := s.users[username]
		if !found {
			return nil
		}
		if bcrypt.CompareHashAndPassword(user.passwordHash, []byte(password)) != nil {
			return nil
		}
		return user
	}

	if raw := r.Header.Get(TokenHeader); raw != "" {
		token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
			return s.signingKey, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			return nil
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return nil
		}
		sub, _ := claims["sub"].(string)
		org, _ := claims["org"].(string)
		var roles []string
		if rawRoles, ok := claims["roles"].([]any); ok {
			for _, r := range rawRoles {
				if role, ok := r.(string); ok {
					roles = append(roles, role)
				}
			}
		}
		return &User{UserID: sub, OrgID: org, Roles: roles}
	}
	return nil
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Get("/auth/login", s.handleLogin)
	r.Get("/auth/verify", s.handleVerify)
	r.Get("/auth/write/{id}", s.handleWriteCheck)

	r.Route("/projects", func(r chi.Router) {
		r.Get("/", s.handleProjectList)
		r.Post("/", s.handleProjectCreate)
		r.Get("/{id}", s.handleProjectGet)
		r.Post("/{id}", s.handleProjectSave)
		r.Patch("/{id}", s.handleProjectPatch)
		r.Delete("/{id}", s.handleProjectDelete)
	})

	r.Route("/slides", func(r chi.Router) {
		r.Get("/", s.handleSlideList)
		r.Post("/", s.handleSlideUpload)
		r.Get("/{id}", s.handleSlideProperties)
		r.Patch("/{id}", s.handleSlidePatch)
		r.Delete("/{id}", s.handleSlideDelete)
	})

	r.Get("/render/{id}/{level}/{x}/{y}", s.handleRenderTile)

	for _, collection := range []string{"workspaces", "subjects", "organizations", "users"} {
		s.mountResource(r, collection)
	}

	r.Get("/backups", s.handleBackupList)
	r.Post("/backups", s.handleBackupRestore)

	return r
}

func writeText(w http.ResponseWriter, value bool) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, value)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	if user == nil {
		writeText(w, false)
		return
	}

	ua := useragent.New(r.UserAgent())
	browser, _ := ua.Browser()
	s.mu.Lock()
	s.sessions = append(s.sessions, SessionInfo{
		UserID:  user.UserID,
		Device:  ua.OS(),
		Browser: browser,
	})
	s.mu.Unlock()
	writeText(w, true)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	writeText(w, s.currentUser(r) != nil)
}

func (s *Server) handleWriteCheck(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	if user == nil {
		writeText(w, false)
		return
	}
	resourceID := chi.URLParam(r, "id")
	s.mu.RLock()
	allowed := s.perms[user.UserID][resourceID]
	s.mu.RUnlock()
	writeText(w, allowed)
}

func (s *Server) handleProjectList(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	docs := make([]json.RawMessage, 0, len(s.projects))
	ids := make([]string, 0, len(s.projects))
	for id := range s.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		docs = append(docs, json.RawMessage(s.projects[id]))
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleProjectCreate(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	if user == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	id := uuid.NewString()
	s.mu.Lock()
	if s.perms[user.UserID] == nil {
		s.perms[user.UserID] = map[string]bool{}
	}
	s.perms[user.UserID][id] = true
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleProjectGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.RLock()
	defer s.mu.RUnlock()

	if raw := r.URL.Query().Get("timestamp"); raw != "" {
		at, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "bad timestamp", http.StatusBadRequest)
			return
		}
		var best *snapshot
		for i := range s.snaps[id] {
			snap := &s.snaps[id][i]
			if snap.Timestamp <= at && (best == nil || snap.Timestamp > best.Timestamp) {
				best = snap
			}
		}
		if best == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(best.Payload)
		return
	}

	doc, ok := s.projects[id]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(doc)
}

func (s *Server) handleProjectSave(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	id := chi.URLParam(r, "id")
	if user == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.perms[user.UserID][id] {
		http.Error(w, "no write access", http.StatusForbidden)
		return
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	s.storeProjectLocked(id, payload)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProjectPatch(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	id := chi.URLParam(r, "id")
	if user == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.perms[user.UserID][id] {
		http.Error(w, "no write access", http.StatusForbidden)
		return
	}
	existing, ok := s.projects[id]
	if !ok {
		http.NotFound(w, r)
		return
	}

	var doc, patch map[string]json.RawMessage
	if err := json.Unmarshal(existing, &doc); err != nil {
		http.Error(w, "stored document corrupt", http.StatusInternalServerError)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "bad patch document", http.StatusBadRequest)
		return
	}
	for k, v := range patch {
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		http.Error(w, "merge failed", http.StatusInternalServerError)
		return
	}
	s.storeProjectLocked(id, merged)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProjectDelete(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	id := chi.URLParam(r, "id")
	if user == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.perms[user.UserID][id] {
		http.Error(w, "no write access", http.StatusForbidden)
		return
	}
	delete(s.projects, id)
	delete(s.snaps, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSlideList(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	docs := make([]json.RawMessage, 0, len(s.slides))
	ids := make([]string, 0, len(s.slides))
	for id := range s.slides {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		doc, _ := json.Marshal(map[string]string{"id": id})
		docs = append(docs, doc)
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleSlideProperties(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.RLock()
	props, ok := s.slides[id]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, props)
}

func (s *Server) handleSlidePatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch map[string]string
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "bad patch document", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	props, ok := s.slides[id]
	if !ok {
		http.NotFound(w, r)
		return
	}
	for k, v := range patch {
		props[k] = v
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSlideDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	delete(s.slides, id)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSlideUpload(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filename := query.Get("filename")
	if filename == "" {
		http.Error(w, "filename required", http.StatusBadRequest)
		return
	}
	chunk, _ := strconv.Atoi(query.Get("chunk"))
	chunkSize, _ := strconv.ParseInt(query.Get("chunkSize"), 10, 64)
	fileSize, _ := strconv.ParseInt(query.Get("fileSize"), 10, 64)

	if err := r.ParseMultipartForm(4 << 20); err != nil {
		http.Error(w, "bad multipart body", http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file part", http.StatusBadRequest)
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read file part", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.uploads[filename] = append(s.uploads[filename], ChunkRecord{
		Chunk:     chunk,
		ChunkSize: chunkSize,
		FileSize:  fileSize,
		Bytes:     len(content),
	})
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// handleRenderTile serves a synthetic PNG tile so image-server tests can run
// the whole templated-fetch path.
func (s *Server) handleRenderTile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.RLock()
	_, ok := s.slides[id]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	width, _ := strconv.Atoi(r.URL.Query().Get("w"))
	height, _ := strconv.Atoi(r.URL.Query().Get("h"))
	if width <= 0 {
		width = 256
	}
	if height <= 0 {
		height = 256
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, width, height))); err != nil {
		http.Error(w, "encode tile", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) mountResource(r chi.Router, collection string) {
	r.Route("/"+collection, func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			s.mu.RLock()
			docs := make([]json.RawMessage, 0, len(s.resources[collection]))
			for _, doc := range s.resources[collection] {
				docs = append(docs, doc)
			}
			s.mu.RUnlock()
			writeJSON(w, http.StatusOK, docs)
		})
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			body, err := io.ReadAll(req.Body)
			if err != nil {
				http.Error(w, "read body", http.StatusBadRequest)
				return
			}
			id := uuid.NewString()
			s.mu.Lock()
			s.resources[collection][id] = body
			s.mu.Unlock()
			writeJSON(w, http.StatusCreated, map[string]string{"id": id})
		})
		r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
			s.mu.RLock()
			doc, ok := s.resources[collection][chi.URLParam(req, "id")]
			s.mu.RUnlock()
			if !ok {
				http.NotFound(w, req)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(doc)
		})
		r.Patch("/{id}", func(w http.ResponseWriter, req *http.Request) {
			body, err := io.ReadAll(req.Body)
			if err != nil {
				http.Error(w, "read body", http.StatusBadRequest)
				return
			}
			id := chi.URLParam(req, "id")
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.resources[collection][id]; !ok {
				http.NotFound(w, req)
				return
			}
			s.resources[collection][id] = body
			w.WriteHeader(http.StatusNoContent)
		})
		r.Delete("/{id}", func(w http.ResponseWriter, req *http.Request) {
			s.mu.Lock()
			delete(s.resources[collection], chi.URLParam(req, "id"))
			s.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		})
	})
}

func (s *Server) handleBackupList(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	backups := append([]Backup(nil), s.backups...)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, backups)
}

func (s *Server) handleBackupRestore(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	filename := r.PostForm.Get("filename")
	timestamp, err := strconv.ParseInt(r.PostForm.Get("timestamp"), 10, 64)
	if filename == "" || err != nil {
		http.Error(w, "filename and timestamp required", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.restored = append(s.restored, Backup{Filename: filename, Timestamp: timestamp})
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}
