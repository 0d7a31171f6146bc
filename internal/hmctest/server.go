// Package hmctest provides an in-process fake HMC for tests: a REST
// surface with session tokens, filtered listing, asynchronous jobs and a
// websocket notification endpoint.
package hmctest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const reasonSessionExpired = 5

// Collection describes one listable collection of the fake resource tree.
type Collection struct {
	// Path is the concrete collection endpoint, e.g. "/api/cpcs".
	Path string
	// Field is the array field of the list response.
	Field string
	// URIProp and OIDProp are the property keys carrying URI and object id.
	URIProp string
	OIDProp string
	// QueryProps are the property names accepted as list filters.
	QueryProps []string
	// ShortProps restricts the property set returned by list entries; nil
	// means all properties.
	ShortProps []string
	// CreateDefaults are server-assigned properties added on create.
	CreateDefaults map[string]any

	order []string
}

type object struct {
	uri   string
	props map[string]any
}

type job struct {
	remainingPolls int
	statusCode     int
	results        map[string]any
}

// Server is the fake HMC.
type Server struct {
	HTTP *httptest.Server

	// AsyncOps makes operation endpoints return 202 with a job URI. The
	// job completes after JobPolls status polls.
	AsyncOps bool
	JobPolls int

	userid   string
	password string
	topic    string
	tokenTTL time.Duration

	mu          sync.Mutex
	secret      []byte
	collections map[string]*Collection
	objects     map[string]*object
	jobs        map[string]*job
	counters    map[string]int
	conns       []*websocket.Conn
}

// New starts a fake HMC accepting the given credentials.
func New(userid, password string) *Server {
	s := &Server{
		userid:      userid,
		password:    password,
		topic:       "test-topic-" + uuid.NewString()[:8],
		tokenTTL:    time.Hour,
		secret:      []byte(uuid.NewString()),
		collections: make(map[string]*Collection),
		objects:     make(map[string]*object),
		jobs:        make(map[string]*job),
		counters:    make(map[string]int),
		JobPolls:    1,
	}

	r := chi.NewRouter()
	r.Use(s.countRequests)
	r.Post("/api/sessions", s.handleLogon)
	r.Delete("/api/sessions/this-session", s.withAuth(s.handleLogoff))
	r.Get("/api/notifications/{topic}", s.handleNotifications)
	r.Get("/api/jobs/{id}", s.withAuth(s.handleJob))
	r.Get("/api/*", s.withAuth(s.handleGet))
	r.Post("/api/*", s.withAuth(s.handlePost))
	r.Delete("/api/*", s.withAuth(s.handleDelete))

	s.HTTP = httptest.NewServer(r)
	return s
}

// URL returns the base URL of the fake HMC.
func (s *Server) URL() string {
	return s.HTTP.URL
}

// Topic returns the object-notification topic handed out at logon.
func (s *Server) Topic() string {
	return s.topic
}

// Close shuts the server down.
func (s *Server) Close() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	s.HTTP.Close()
}

// SetTokenTTL shortens the lifetime of issued session tokens.
func (s *Server) SetTokenTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenTTL = ttl
}

// ExpireSessions invalidates all previously issued session tokens.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secret = []byte(uuid.NewString())
}

// AddCollection registers a collection endpoint.
func (s *Server) AddCollection(c *Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.URIProp == "" {
		c.URIProp = "object-uri"
	}
	if c.OIDProp == "" {
		c.OIDProp = "object-id"
	}
	s.collections[c.Path] = c
}

// AddObject inserts an object into a collection, assigning an id and URI
// when the properties carry none. It returns the object URI.
func (s *Server) AddObject(collectionPath string, props map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addObjectLocked(collectionPath, props)
}

func (s *Server) addObjectLocked(collectionPath string, props map[string]any) string {
	c := s.collections[collectionPath]
	if c == nil {
		panic(fmt.Sprintf("hmctest: unknown collection %q", collectionPath))
	}
	copied := make(map[string]any, len(props)+2)
	for k, v := range props {
		copied[k] = v
	}
	id, _ := copied[c.OIDProp].(string)
	if id == "" {
		id = uuid.NewString()
		copied[c.OIDProp] = id
	}
	uri, _ := copied[c.URIProp].(string)
	if uri == "" {
		uri = c.Path + "/" + id
		copied[c.URIProp] = uri
	}
	s.objects[uri] = &object{uri: uri, props: copied}
	c.order = append(c.order, uri)
	return uri
}

// RemoveObject deletes an object from the tree.
func (s *Server) RemoveObject(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeObjectLocked(uri)
}

func (s *Server) removeObjectLocked(uri string) {
	delete(s.objects, uri)
	for _, c := range s.collections {
		for i, u := range c.order {
			if u == uri {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
}

// SetProperty changes one property of an object server-side.
func (s *Server) SetProperty(uri, name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o := s.objects[uri]; o != nil {
		o.props[name] = value
	}
}

// RequestCount returns how many requests of the given method and exact
// path (without query) the server has seen.
func (s *Server) RequestCount(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[method+" "+path]
}

// PushNotification broadcasts one notification frame to all websocket
// subscribers.
func (s *Server) PushNotification(frame map[string]any) {
	data, err := json.Marshal(frame)
	if err != nil {
		panic(err)
	}
	s.PushRaw(data)
}

// PushRaw broadcasts raw bytes to all websocket subscribers.
func (s *Server) PushRaw(data []byte) {
	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		c.WriteMessage(websocket.TextMessage, data)
	}
}

// SubscriberCount returns the number of connected notification clients.
func (s *Server) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropSubscribers closes all websocket connections without shutting the
// server down, simulating a lost notification connection.
func (s *Server) DropSubscribers() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.counters[r.Method+" "+r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogon(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Userid   string `json:"userid"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		sendError(w, http.StatusBadRequest, -1, "malformed logon body")
		return
	}
	if creds.Userid != s.userid || creds.Password != s.password {
		sendError(w, http.StatusForbidden, 0, "invalid credentials")
		return
	}

	s.mu.Lock()
	secret := s.secret
	ttl := s.tokenTTL
	s.mu.Unlock()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": creds.Userid,
		"exp": time.Now().Add(ttl).Unix(),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		sendError(w, http.StatusInternalServerError, -1, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"api-session":        signed,
		"notification-topic": s.topic,
	})
}

func (s *Server) handleLogoff(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.validToken(r.Header.Get("X-API-Session")) {
			sendError(w, http.StatusForbidden, reasonSessionExpired, "session token expired or invalid")
			return
		}
		next(w, r)
	}
}

func (s *Server) validToken(raw string) bool {
	if raw == "" {
		return false
	}
	s.mu.Lock()
	secret := s.secret
	s.mu.Unlock()
	_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	return err == nil
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if !s.validToken(r.Header.Get("X-API-Session")) {
		sendError(w, http.StatusForbidden, reasonSessionExpired, "session token expired or invalid")
		return
	}
	if chi.URLParam(r, "topic") != s.topic {
		sendError(w, http.StatusNotFound, 1, "unknown topic")
		return
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Path
	s.mu.Lock()
	j := s.jobs[uri]
	if j != nil && j.remainingPolls > 0 {
		j.remainingPolls--
		s.mu.Unlock()
		sendJSON(w, http.StatusOK, map[string]any{"status": "running"})
		return
	}
	s.mu.Unlock()
	if j == nil {
		sendError(w, http.StatusNotFound, 1, "unknown job")
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"status":          "complete",
		"job-status-code": j.statusCode,
		"job-results":     j.results,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	s.mu.Lock()
	if c, ok := s.collections[path]; ok {
		entries, err := s.listLocked(c, r)
		s.mu.Unlock()
		if err != nil {
			sendError(w, http.StatusBadRequest, 14, err.Error())
			return
		}
		sendJSON(w, http.StatusOK, map[string]any{c.Field: entries})
		return
	}
	o := s.objects[path]
	s.mu.Unlock()

	if o == nil {
		sendError(w, http.StatusNotFound, 1, "no resource at "+path)
		return
	}
	sendJSON(w, http.StatusOK, o.props)
}

// listLocked evaluates server-side filters with the same semantics the
// client applies: full-anchored regex matching on string values.
func (s *Server) listLocked(c *Collection, r *http.Request) ([]map[string]any, error) {
	query := r.URL.Query()
	entries := []map[string]any{}
	for _, uri := range c.order {
		o := s.objects[uri]
		if o == nil {
			continue
		}
		matched, err := matchesQuery(o.props, c.QueryProps, query)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		entries = append(entries, shortProps(o.props, c))
	}
	return entries, nil
}

func matchesQuery(props map[string]any, queryProps []string, query map[string][]string) (bool, error) {
	for _, name := range queryProps {
		patterns := query[name]
		if len(patterns) == 0 {
			continue
		}
		value, ok := props[name]
		if !ok {
			return false, nil
		}
		anyMatch := false
		for _, pattern := range patterns {
			if str, ok := value.(string); ok {
				re, err := regexp.Compile("^(?:" + pattern + ")$")
				if err != nil {
					return false, err
				}
				if re.MatchString(str) {
					anyMatch = true
					break
				}
			} else if fmt.Sprintf("%v", value) == pattern {
				anyMatch = true
				break
			}
		}
		if !anyMatch {
			return false, nil
		}
	}
	return true, nil
}

func shortProps(props map[string]any, c *Collection) map[string]any {
	if c.ShortProps == nil {
		out := make(map[string]any, len(props))
		for k, v := range props {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(c.ShortProps)+2)
	out[c.URIProp] = props[c.URIProp]
	out[c.OIDProp] = props[c.OIDProp]
	for _, k := range c.ShortProps {
		if v, ok := props[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if strings.Contains(path, "/operations/") {
		s.handleOperation(w, r)
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		body = map[string]any{}
	}

	s.mu.Lock()
	if c, ok := s.collections[path]; ok {
		// create
		for k, v := range c.CreateDefaults {
			if _, ok := body[k]; !ok {
				body[k] = v
			}
		}
		uri := s.addObjectLocked(path, body)
		o := s.objects[uri]
		resp := map[string]any{
			c.URIProp: o.props[c.URIProp],
			c.OIDProp: o.props[c.OIDProp],
		}
		for k, v := range c.CreateDefaults {
			resp[k] = v
		}
		s.mu.Unlock()
		sendJSON(w, http.StatusCreated, resp)
		return
	}
	if o, ok := s.objects[path]; ok {
		// property update
		for k, v := range body {
			o.props[k] = v
		}
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mu.Unlock()
	sendError(w, http.StatusNotFound, 1, "no resource at "+path)
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	objURI := path[:strings.Index(path, "/operations/")]

	s.mu.Lock()
	_, exists := s.objects[objURI]
	async := s.AsyncOps
	polls := s.JobPolls
	s.mu.Unlock()

	if !exists {
		sendError(w, http.StatusNotFound, 1, "no resource at "+objURI)
		return
	}
	if !async {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	jobURI := "/api/jobs/" + uuid.NewString()
	s.mu.Lock()
	s.jobs[jobURI] = &job{
		remainingPolls: polls,
		statusCode:     http.StatusNoContent,
		results:        map[string]any{},
	}
	s.mu.Unlock()
	sendJSON(w, http.StatusAccepted, map[string]any{"job-uri": jobURI})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	s.mu.Lock()
	_, ok := s.objects[path]
	if ok {
		s.removeObjectLocked(path)
	}
	s.mu.Unlock()
	if !ok {
		sendError(w, http.StatusNotFound, 1, "no resource at "+path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status, reason int, msg string) {
	sendJSON(w, status, map[string]any{
		"http-status": status,
		"reason":      reason,
		"message":     msg,
	})
}
