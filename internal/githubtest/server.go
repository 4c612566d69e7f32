// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

// Package githubtest provides an in-process fake of the GitHub REST endpoints
// used to look up users and organizations. It serves fixtures from memory,
// paginates list endpoints with Link headers, and answers unknown credentials
// with GitHub's "Bad credentials" error.
package githubtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/andrewkroh/orgs/internal/github"
)

// Fixtures is the data served by a Server. Users holds the /users/:name
// responses, which include organizations queried through the user endpoint.
type Fixtures struct {
	Users             map[string]github.Record
	Orgs              map[string]github.Record
	UserOrgs          map[string][]github.Record
	AllUsers          []github.Record
	AllOrgs           []github.Record
	AuthenticatedOrgs []github.Record
}

// Server is a fake GitHub API backed by Fixtures.
type Server struct {
	*httptest.Server

	// Token, when non-empty, is the only bearer token accepted.
	Token string

	// PageSize is the number of items per page for list endpoints.
	PageSize int

	fixtures Fixtures

	mu    sync.Mutex
	calls map[string]int
}

// NewServer starts a fake GitHub API. Close it when done.
func NewServer(f Fixtures) *Server {
	s := &Server{
		PageSize: 2,
		fixtures: f,
		calls:    make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/{name}", s.handleGetUser)
	mux.HandleFunc("GET /users/{name}/orgs", s.handleUserOrgs)
	mux.HandleFunc("GET /orgs/{name}", s.handleGetOrg)
	mux.HandleFunc("GET /users", s.handleList(func() []github.Record { return f.AllUsers }))
	mux.HandleFunc("GET /organizations", s.handleList(func() []github.Record { return f.AllOrgs }))
	mux.HandleFunc("GET /user/orgs", s.handleList(func() []github.Record { return f.AuthenticatedOrgs }))

	s.Server = httptest.NewServer(s.count(mux))
	return s
}

// Calls returns how many requests were made for the given path, ignoring the
// query string.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.URL.Path]++
		s.mu.Unlock()

		if !s.authorized(r) {
			writeMessage(w, http.StatusUnauthorized, "Bad credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.Token == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return false
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")) == s.Token
}

// handleGetUser implements GET /users/{name}.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.fixtures.Users[r.PathValue("name")]
	if !ok {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, rec)
}

// handleGetOrg implements GET /orgs/{name}.
func (s *Server) handleGetOrg(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.fixtures.Orgs[r.PathValue("name")]
	if !ok {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, rec)
}

// handleUserOrgs implements GET /users/{name}/orgs.
func (s *Server) handleUserOrgs(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.fixtures.Users[name]; !ok {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	s.writePage(w, r, s.fixtures.UserOrgs[name])
}

func (s *Server) handleList(items func() []github.Record) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writePage(w, r, items())
	}
}

// writePage writes the requested page of items and a Link header pointing at
// the following page when there is one.
func (s *Server) writePage(w http.ResponseWriter, r *http.Request, items []github.Record) {
	size := s.PageSize
	if size <= 0 {
		size = len(items) + 1
	}

	page := 1
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}

	start := min((page-1)*size, len(items))
	end := min(start+size, len(items))

	if end < len(items) {
		next := fmt.Sprintf("http://%s%s?per_page=%d&page=%d", r.Host, r.URL.Path, size, page+1)
		w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next"`, next))
	}

	body := items[start:end]
	if body == nil {
		body = []github.Record{}
	}
	writeJSON(w, body)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"message":%q}`, message)
}
