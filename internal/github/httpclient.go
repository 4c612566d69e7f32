// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const (
	defaultBaseURL = "https://api.github.com"
	acceptHeader   = "application/vnd.github+json"
	apiVersion     = "2022-11-28"
	perPage        = 100
	tracerName     = "github.com/andrewkroh/orgs/internal/github"
)

// linkNextRE matches the "next" relation in a Link header value.
var linkNextRE = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// HTTPClient is a concrete implementation of the Client interface that
// communicates with the GitHub API over HTTP.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	maxPages   int
	log        *slog.Logger
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithBaseURL sets the base URL for the GitHub API.
func WithBaseURL(url string) Option {
	return func(c *HTTPClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		c.httpClient = hc
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *HTTPClient) {
		c.log = l
	}
}

// WithMaxPages stops paginated requests after n pages. The listings of all
// users and all organizations are effectively unbounded. Zero means no limit.
func WithMaxPages(n int) Option {
	return func(c *HTTPClient) {
		c.maxPages = n
	}
}

// NewHTTPClient creates a new HTTPClient with the given options.
// By default it uses https://api.github.com as the base URL, an
// otelhttp-instrumented transport, and slog.Default() as the logger.
func NewHTTPClient(opts ...Option) *HTTPClient {
	c := &HTTPClient{
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		baseURL:    defaultBaseURL,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// setHeaders sets the standard GitHub API headers and credentials on a request.
func setHeaders(req *http.Request, auth Auth) {
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	switch {
	case auth.Token != "":
		tok := &oauth2.Token{AccessToken: auth.Token, TokenType: "Bearer"}
		tok.SetAuthHeader(req)
	case auth.Username != "":
		req.SetBasicAuth(auth.Username, auth.Password)
	}
}

// GetOrg fetches GET /orgs/:name.
func (c *HTTPClient) GetOrg(ctx context.Context, auth Auth, name string) (*Response, error) {
	return c.get(ctx, "github.get_org", auth, "/orgs/"+url.PathEscape(name))
}

// GetUser fetches GET /users/:name.
func (c *HTTPClient) GetUser(ctx context.Context, auth Auth, name string) (*Response, error) {
	return c.get(ctx, "github.get_user", auth, "/users/"+url.PathEscape(name))
}

// ListUsers fetches every page of GET /users.
func (c *HTTPClient) ListUsers(ctx context.Context, auth Auth) (*PagedResponse, error) {
	return c.paged(ctx, "github.list_users", auth, "/users")
}

// ListUserOrgs fetches every page of GET /users/:name/orgs.
func (c *HTTPClient) ListUserOrgs(ctx context.Context, auth Auth, name string) (*PagedResponse, error) {
	return c.paged(ctx, "github.list_user_orgs", auth, "/users/"+url.PathEscape(name)+"/orgs")
}

// ListOrganizations fetches every page of GET /organizations.
func (c *HTTPClient) ListOrganizations(ctx context.Context, auth Auth) (*PagedResponse, error) {
	return c.paged(ctx, "github.list_organizations", auth, "/organizations")
}

// ListAuthenticatedOrgs fetches every page of GET /user/orgs.
func (c *HTTPClient) ListAuthenticatedOrgs(ctx context.Context, auth Auth) (*PagedResponse, error) {
	return c.paged(ctx, "github.list_authenticated_orgs", auth, "/user/orgs")
}

// get issues a single GET request and decodes one Record.
func (c *HTTPClient) get(ctx context.Context, op string, auth Auth, urlPath string) (*Response, error) {
	ctx, span := c.tracer().Start(ctx, op)
	defer span.End()

	span.SetAttributes(
		attribute.String("http.request.method", http.MethodGet),
		attribute.String("url.path", urlPath),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+urlPath, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.ErrorContext(ctx, "failed to create request", slog.String("op", op), slog.String("error", err.Error()))
		return nil, fmt.Errorf("github: creating request: %w", err)
	}
	setHeaders(req, auth)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.ErrorContext(ctx, "request failed", slog.String("op", op), slog.String("error", err.Error()))
		return nil, fmt.Errorf("github: executing request: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if err := checkResponse(resp, urlPath); err != nil {
		c.log.WarnContext(ctx, "unexpected response", slog.String("op", op), slog.Int("status", resp.StatusCode))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.ErrorContext(ctx, "failed to decode response", slog.String("op", op), slog.String("error", err.Error()))
		return nil, fmt.Errorf("github: decoding %s response: %w", urlPath, err)
	}

	c.log.DebugContext(ctx, "fetched record",
		slog.String("op", op),
		slog.String("login", rec.Login),
		slog.String("type", rec.Type),
	)
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: rec}, nil
}

// paged follows Link rel="next" headers starting at urlPath and collects
// every page.
func (c *HTTPClient) paged(ctx context.Context, op string, auth Auth, urlPath string) (*PagedResponse, error) {
	ctx, span := c.tracer().Start(ctx, op)
	defer span.End()

	span.SetAttributes(
		attribute.String("http.request.method", http.MethodGet),
		attribute.String("url.path", urlPath),
	)

	out := &PagedResponse{}
	nextURL := fmt.Sprintf("%s%s?per_page=%d", c.baseURL, urlPath, perPage)

	for nextURL != "" {
		if c.maxPages > 0 && len(out.Pages) >= c.maxPages {
			c.log.DebugContext(ctx, "page limit reached", slog.String("op", op), slog.Int("max_pages", c.maxPages))
			break
		}

		page, next, err := c.fetchPage(ctx, op, auth, urlPath, nextURL)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out.Pages = append(out.Pages, page)
		nextURL = next
	}

	span.SetAttributes(attribute.Int("github.pages", len(out.Pages)))
	c.log.DebugContext(ctx, "fetched pages", slog.String("op", op), slog.Int("pages", len(out.Pages)))

	return out, nil
}

// fetchPage fetches a single page from the given URL.
// It returns the page, the URL for the next page (or "" if none), and any error.
func (c *HTTPClient) fetchPage(ctx context.Context, op string, auth Auth, urlPath, pageURL string) (Page, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		c.log.ErrorContext(ctx, "failed to create request", slog.String("op", op), slog.String("error", err.Error()))
		return Page{}, "", fmt.Errorf("github: creating request: %w", err)
	}
	setHeaders(req, auth)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.ErrorContext(ctx, "request failed", slog.String("op", op), slog.String("error", err.Error()))
		return Page{}, "", fmt.Errorf("github: executing request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, urlPath); err != nil {
		c.log.WarnContext(ctx, "unexpected response", slog.String("op", op), slog.Int("status", resp.StatusCode))
		return Page{}, "", err
	}

	var body []Record
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.log.ErrorContext(ctx, "failed to decode response", slog.String("op", op), slog.String("error", err.Error()))
		return Page{}, "", fmt.Errorf("github: decoding %s page: %w", urlPath, err)
	}

	page := Page{
		URL:        pageURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}
	return page, parseLinkNext(resp.Header.Get("Link")), nil
}

// checkResponse returns an *APIError for any non-2xx response.
func checkResponse(resp *http.Response, urlPath string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{
		Method:     resp.Request.Method,
		Path:       urlPath,
		StatusCode: resp.StatusCode,
	}

	var msg struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &msg); err == nil && msg.Message != "" {
		apiErr.Message = msg.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// parseLinkNext extracts the URL for the "next" relation from a Link header.
// Returns "" if no "next" relation is found.
func parseLinkNext(header string) string {
	if header == "" {
		return ""
	}
	matches := linkNextRE.FindStringSubmatch(header)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}
