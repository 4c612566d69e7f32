// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

// Package handler provides the JSON HTTP API over the org resolver.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/andrewkroh/orgs/internal/github"
	"github.com/andrewkroh/orgs/internal/orgs"
)

// maxBodyBytes caps the size of a /resolve request body.
const maxBodyBytes = 1 << 20

// Resolver defines the operations served by the handler.
// This allows the handler to be tested with a mock resolver.
type Resolver interface {
	ResolveInput(ctx context.Context, users json.RawMessage, opts orgs.Options) ([]github.Record, error)
	Get(ctx context.Context, name string, auth github.Auth) (*github.Response, error)
	User(ctx context.Context, name string, auth github.Auth) (*github.Response, error)
	Users(ctx context.Context, auth github.Auth) (*github.PagedResponse, error)
	UserOrgs(ctx context.Context, user string, auth github.Auth) (*github.PagedResponse, error)
	All(ctx context.Context, auth github.Auth) (*github.PagedResponse, error)
}

// Handler provides HTTP handlers for the org resolver API.
type Handler struct {
	resolver    Resolver
	defaultAuth github.Auth
	log         *slog.Logger
}

// New creates a new Handler. defaultAuth is used for requests that carry no
// credentials of their own.
func New(r Resolver, defaultAuth github.Auth, log *slog.Logger) *Handler {
	return &Handler{
		resolver:    r,
		defaultAuth: defaultAuth,
		log:         log,
	}
}

// Routes returns an http.Handler with all routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /resolve", h.handleResolve)
	mux.HandleFunc("GET /orgs/{name}", h.handleGetOrg)
	mux.HandleFunc("GET /users/{name}", h.handleGetUser)
	mux.HandleFunc("GET /users/{name}/orgs", h.handleUserOrgs)
	mux.HandleFunc("GET /users", h.handleUsers)
	mux.HandleFunc("GET /organizations", h.handleAll)
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /ready", h.handleReady)
	return otelhttp.NewHandler(mux, "orgs.api")
}

// getSourceIP extracts the client IP address from the request.
// It prefers the leftmost X-Forwarded-For entry and falls back to RemoteAddr.
func getSourceIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		clientIP := strings.TrimSpace(strings.Split(xff, ",")[0])
		if clientIP != "" {
			return clientIP
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestAuth returns the credentials to forward to GitHub for r: the
// caller's bearer token or basic credentials if present, otherwise the
// default. ok is false when an Authorization header is present but malformed.
func (h *Handler) requestAuth(r *http.Request) (github.Auth, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return h.defaultAuth, true
	}
	if token, ok := parseBearerToken(header); ok {
		return github.Auth{Token: token}, true
	}
	if user, pass, ok := r.BasicAuth(); ok && user != "" {
		return github.Auth{Username: user, Password: pass}, true
	}
	return github.Auth{}, false
}

// resolveRequest is the JSON body of POST /resolve. Users may be a string,
// an array of strings, or an options object such as {"token":"..."} that
// resolves the caller's own organizations. Sort defaults to true.
type resolveRequest struct {
	Users json.RawMessage `json:"users"`
	Sort  *bool           `json:"sort"`
}

type resolveResponse struct {
	Orgs []github.Record `json:"orgs"`
}

type pagedResponse struct {
	Orgs  []github.Record `json:"orgs"`
	Pages int             `json:"pages"`
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	sourceIP := getSourceIP(r)

	auth, ok := h.requestAuth(r)
	if !ok {
		h.log.WarnContext(r.Context(), "Malformed Authorization header", slog.String("source.ip", sourceIP))
		writeJSONError(w, http.StatusUnauthorized, "malformed Authorization header")
		return
	}

	var req resolveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.log.WarnContext(r.Context(), "Invalid resolve request body",
			slog.String("error", err.Error()),
			slog.String("source.ip", sourceIP),
		)
		writeJSONError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	opts := orgs.Options{
		Auth:     auth,
		Unsorted: req.Sort != nil && !*req.Sort,
	}

	recs, err := h.resolver.ResolveInput(r.Context(), req.Users, opts)
	if err != nil {
		h.handleError(r.Context(), w, sourceIP, err)
		return
	}
	if recs == nil {
		recs = []github.Record{}
	}

	h.log.InfoContext(r.Context(), "Resolved names",
		slog.Int("records", len(recs)),
		slog.String("source.ip", sourceIP),
	)
	writeJSON(w, http.StatusOK, resolveResponse{Orgs: recs})
}

func (h *Handler) handleGetOrg(w http.ResponseWriter, r *http.Request) {
	h.serveRecord(w, r, h.resolver.Get)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	h.serveRecord(w, r, h.resolver.User)
}

func (h *Handler) handleUserOrgs(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	h.servePaged(w, r, func(ctx context.Context, auth github.Auth) (*github.PagedResponse, error) {
		return h.resolver.UserOrgs(ctx, name, auth)
	})
}

func (h *Handler) handleUsers(w http.ResponseWriter, r *http.Request) {
	h.servePaged(w, r, h.resolver.Users)
}

func (h *Handler) handleAll(w http.ResponseWriter, r *http.Request) {
	h.servePaged(w, r, h.resolver.All)
}

func (h *Handler) serveRecord(w http.ResponseWriter, r *http.Request, fetch func(context.Context, string, github.Auth) (*github.Response, error)) {
	sourceIP := getSourceIP(r)

	auth, ok := h.requestAuth(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "malformed Authorization header")
		return
	}

	resp, err := fetch(r.Context(), r.PathValue("name"), auth)
	if err != nil {
		h.handleError(r.Context(), w, sourceIP, err)
		return
	}
	writeJSON(w, http.StatusOK, resp.Body)
}

func (h *Handler) servePaged(w http.ResponseWriter, r *http.Request, fetch func(context.Context, github.Auth) (*github.PagedResponse, error)) {
	sourceIP := getSourceIP(r)

	auth, ok := h.requestAuth(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "malformed Authorization header")
		return
	}

	resp, err := fetch(r.Context(), auth)
	if err != nil {
		h.handleError(r.Context(), w, sourceIP, err)
		return
	}

	out := pagedResponse{Orgs: resp.Orgs, Pages: len(resp.Pages)}
	if out.Orgs == nil {
		out.Orgs = []github.Record{}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleError maps resolver and GitHub errors to HTTP responses. GitHub
// error statuses and messages are passed through.
func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, sourceIP string, err error) {
	var apiErr *github.APIError
	switch {
	case errors.Is(err, orgs.ErrInvalidInput):
		h.log.WarnContext(ctx, "Invalid users value", slog.String("source.ip", sourceIP))
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &apiErr):
		h.log.WarnContext(ctx, "GitHub API error",
			slog.Int("status", apiErr.StatusCode),
			slog.String("error", err.Error()),
			slog.String("source.ip", sourceIP),
		)
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		writeJSONError(w, apiErr.StatusCode, msg)
	default:
		h.log.ErrorContext(ctx, "Request failed: internal error",
			slog.String("error", err.Error()),
			slog.String("source.ip", sourceIP),
		)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// handleHealthz responds with a simple health check.
func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

// handleReady responds with a simple readiness check.
func (h *Handler) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

// parseBearerToken extracts the token from a "Bearer <token>" Authorization header.
// Returns the token and true if valid, or empty string and false if malformed.
func parseBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message})
}
