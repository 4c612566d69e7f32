// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for GitHub API operations.
var (
	ErrUnauthorized = errors.New("github: unauthorized (bad credentials)")
	ErrNotFound     = errors.New("github: not found")
)

// APIError is returned for any non-2xx response. Message is the "message"
// field of GitHub's error body, passed through unmodified.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("github: %s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("github: %s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Is lets errors.Is match ErrUnauthorized and ErrNotFound by status code.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// Client defines the interface for interacting with the GitHub API.
type Client interface {
	// GetOrg fetches GET /orgs/:name.
	GetOrg(ctx context.Context, auth Auth, name string) (*Response, error)

	// GetUser fetches GET /users/:name. The endpoint also answers for
	// organization logins, in which case the body's Type is "Organization".
	GetUser(ctx context.Context, auth Auth, name string) (*Response, error)

	// ListUsers fetches every page of GET /users.
	ListUsers(ctx context.Context, auth Auth) (*PagedResponse, error)

	// ListUserOrgs fetches every page of GET /users/:name/orgs.
	ListUserOrgs(ctx context.Context, auth Auth, name string) (*PagedResponse, error)

	// ListOrganizations fetches every page of GET /organizations.
	ListOrganizations(ctx context.Context, auth Auth) (*PagedResponse, error)

	// ListAuthenticatedOrgs fetches every page of GET /user/orgs.
	ListAuthenticatedOrgs(ctx context.Context, auth Auth) (*PagedResponse, error)
}
