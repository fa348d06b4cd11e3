// Package apictest provides an in-process controller for tests. It speaks
// the login, refresh, class query, subscription and websocket stream subset
// of the controller REST API over TLS.
package apictest

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/faultbridge/pkg/apic"
	"github.com/cuemby/faultbridge/pkg/types"
	"github.com/gorilla/websocket"
)

var quoted = regexp.MustCompile(`"([^"]+)"`)

// Server is a fake controller
type Server struct {
	*httptest.Server

	user     string
	password string

	mu            sync.Mutex
	tokens        map[string]bool
	tokenSeq      int
	subSeq        int
	records       map[string][]apic.Attributes
	counts        map[string]int
	calls         map[string]int
	filters       map[string][]string
	refreshStatus int
	subRefreshErr bool
	streams       []*websocket.Conn
	upgrader      websocket.Upgrader
}

// NewServer starts a fake controller that accepts the given credentials
func NewServer(user, password string) *Server {
	s := &Server{
		user:     user,
		password: password,
		tokens:   make(map[string]bool),
		records:  make(map[string][]apic.Attributes),
		counts:   make(map[string]int),
		calls:    make(map[string]int),
		filters:  make(map[string][]string),
	}
	s.Server = httptest.NewTLSServer(http.HandlerFunc(s.handle))
	return s
}

// Close shuts the server and any open streams
func (s *Server) Close() {
	s.CloseStreams()
	s.Server.Close()
}

// Endpoint returns an endpoint pointing at the server with valid credentials
func (s *Server) Endpoint() types.Endpoint {
	host, port := s.hostPort()
	return types.Endpoint{Host: host, Port: port, User: s.user, Password: s.password}
}

// TLSConfig trusts the server's self-signed certificate
func (s *Server) TLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true} //nolint:gosec // test server
}

// AddRecords appends records of class returned by class queries
func (s *Server) AddRecords(class string, attrs ...apic.Attributes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[class] = append(s.records[class], attrs...)
}

// SetCount forces the count returned for class count queries
func (s *Server) SetCount(class string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[class] = n
}

// SetRefreshStatus makes aaaRefresh answer with status (0 restores success)
func (s *Server) SetRefreshStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshStatus = status
}

// SetSubscriptionRefreshFailure makes subscriptionRefresh fail
func (s *Server) SetSubscriptionRefreshFailure(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subRefreshErr = fail
}

// Calls returns how many requests hit path
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// Filters returns the query-target-filter values seen for class, in order
func (s *Server) Filters(class string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.filters[class]...)
}

// StreamCount returns the number of open websocket streams
func (s *Server) StreamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// Push sends one imdata frame holding attrs to every open stream and
// returns how many streams received it. Streams that fail are dropped.
func (s *Server) Push(class string, attrs ...apic.Attributes) (int, error) {
	frame, err := Frame(class, attrs...)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.streams[:0]
	for _, conn := range s.streams {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			conn.Close()
			continue
		}
		live = append(live, conn)
	}
	s.streams = live
	return len(live), nil
}

// CloseStreams drops every open stream
func (s *Server) CloseStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.streams {
		conn.Close()
	}
	s.streams = nil
}

// Frame builds a query-response payload
func Frame(class string, attrs ...apic.Attributes) ([]byte, error) {
	imdata := make([]map[string]interface{}, 0, len(attrs))
	for _, a := range attrs {
		imdata = append(imdata, map[string]interface{}{
			class: map[string]interface{}{"attributes": a},
		})
	}
	return json.Marshal(map[string]interface{}{
		"totalCount": strconv.Itoa(len(attrs)),
		"imdata":     imdata,
	})
}

func (s *Server) hostPort() (string, int) {
	addr := strings.TrimPrefix(s.URL, "https://")
	i := strings.LastIndex(addr, ":")
	port, _ := strconv.Atoi(addr[i+1:])
	return addr[:i], port
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls[r.URL.Path]++
	s.mu.Unlock()

	if strings.HasPrefix(r.URL.Path, "/socket") {
		s.handleSocket(w, r)
		return
	}
	if r.URL.Path == "/api/aaaLogin.json" {
		s.handleLogin(w, r)
		return
	}

	cookie, err := r.Cookie(apic.CookieName)
	s.mu.Lock()
	valid := err == nil && s.tokens[cookie.Value]
	s.mu.Unlock()
	if !valid {
		writeError(w, http.StatusForbidden, "403", "Token was invalid")
		return
	}

	switch {
	case r.URL.Path == "/api/aaaRefresh.json":
		s.handleRefresh(w)
	case r.URL.Path == "/api/subscriptionRefresh.json":
		s.mu.Lock()
		fail := s.subRefreshErr
		s.mu.Unlock()
		if fail {
			writeError(w, http.StatusBadRequest, "400", "subscription "+r.URL.Query().Get("id")+" not found")
			return
		}
		writeJSON(w, map[string]interface{}{"totalCount": "0", "imdata": []interface{}{}})
	case strings.HasPrefix(r.URL.Path, "/api/node/class/"):
		s.handleClass(w, r)
	default:
		writeError(w, http.StatusBadRequest, "400", "unknown path "+r.URL.Path)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AaaUser struct {
			Attributes struct {
				Name string `json:"name"`
				Pwd  string `json:"pwd"`
			} `json:"attributes"`
		} `json:"aaaUser"`
	}
	user, pass, ok := r.BasicAuth()
	if r.Method != http.MethodPost || !ok || json.NewDecoder(r.Body).Decode(&body) != nil ||
		user != s.user || pass != s.password ||
		body.AaaUser.Attributes.Name != s.user || body.AaaUser.Attributes.Pwd != s.password {
		writeError(w, http.StatusUnauthorized, "401", "Username or password is incorrect")
		return
	}
	writeToken(w, s.newToken())
}

func (s *Server) handleRefresh(w http.ResponseWriter) {
	s.mu.Lock()
	status := s.refreshStatus
	s.mu.Unlock()
	if status != 0 {
		writeError(w, status, strconv.Itoa(status), "refresh rejected")
		return
	}
	writeToken(w, s.newToken())
}

func (s *Server) handleClass(w http.ResponseWriter, r *http.Request) {
	class := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/node/class/"), ".json")
	q := r.URL.Query()
	filter := q.Get("query-target-filter")

	s.mu.Lock()
	if filter != "" {
		s.filters[class] = append(s.filters[class], filter)
	}
	matched := matchRecords(s.records[class], filter)
	forced, hasForced := s.counts[class]
	s.mu.Unlock()

	if q.Get("rsp-subtree-include") == "count" {
		n := len(matched)
		if hasForced {
			n = forced
		}
		writeJSON(w, map[string]interface{}{
			"totalCount": "1",
			"imdata": []interface{}{
				map[string]interface{}{"moCount": map[string]interface{}{
					"attributes": map[string]string{"count": strconv.Itoa(n)},
				}},
			},
		})
		return
	}

	frame, _ := Frame(class, matched...)
	if q.Get("subscription") == "yes" {
		s.mu.Lock()
		s.subSeq++
		id := fmt.Sprintf("7205759834967%05d", s.subSeq)
		s.mu.Unlock()

		var payload map[string]interface{}
		_ = json.Unmarshal(frame, &payload)
		payload["subscriptionId"] = id
		writeJSON(w, payload)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(frame)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, "/socket")
	s.mu.Lock()
	valid := s.tokens[token]
	s.mu.Unlock()
	if !valid {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.streams = append(s.streams, conn)
	s.mu.Unlock()
}

func (s *Server) newToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenSeq++
	token := fmt.Sprintf("token-%d", s.tokenSeq)
	s.tokens[token] = true
	return token
}

// matchRecords applies gt(...) or and(ge(...),lt(...)) on created
func matchRecords(records []apic.Attributes, filter string) []apic.Attributes {
	bounds := quoted.FindAllStringSubmatch(filter, -1)
	if len(bounds) == 0 {
		return records
	}

	var lo, hi time.Time
	lo, _ = apic.ParseTime(bounds[0][1])
	inclusive := strings.Contains(filter, "ge(")
	if len(bounds) > 1 {
		hi, _ = apic.ParseTime(bounds[1][1])
	}

	var out []apic.Attributes
	for _, rec := range records {
		created, err := apic.ParseTime(rec["created"])
		if err != nil {
			out = append(out, rec)
			continue
		}
		if created.Before(lo) || (!inclusive && created.Equal(lo)) {
			continue
		}
		if !hi.IsZero() && !created.Before(hi) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func writeToken(w http.ResponseWriter, token string) {
	writeJSON(w, map[string]interface{}{
		"totalCount": "1",
		"imdata": []interface{}{
			map[string]interface{}{"aaaLogin": map[string]interface{}{
				"attributes": map[string]string{"token": token, "refreshTimeoutSeconds": "600"},
			}},
		},
	})
}

func writeError(w http.ResponseWriter, status int, code, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"totalCount": "1",
		"imdata": []interface{}{
			map[string]interface{}{"error": map[string]interface{}{
				"attributes": map[string]string{"code": code, "text": text},
			}},
		},
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
