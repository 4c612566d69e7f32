// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

package orgs

import (
	"context"

	"github.com/andrewkroh/orgs/internal/github"
)

// Get returns the organization details for name (GET /orgs/:name).
func (s *Service) Get(ctx context.Context, name string, auth github.Auth) (*github.Response, error) {
	return s.github.GetOrg(ctx, auth, name)
}

// User returns the user details for name (GET /users/:name).
func (s *Service) User(ctx context.Context, name string, auth github.Auth) (*github.Response, error) {
	return s.github.GetUser(ctx, auth, name)
}

// Users returns every page of GET /users with the flattened records in Orgs.
func (s *Service) Users(ctx context.Context, auth github.Auth) (*github.PagedResponse, error) {
	resp, err := s.github.ListUsers(ctx, auth)
	if err != nil {
		return nil, err
	}
	return Reduce(resp), nil
}

// UserOrgs returns every page of GET /users/:name/orgs with the flattened
// organizations in Orgs.
func (s *Service) UserOrgs(ctx context.Context, user string, auth github.Auth) (*github.PagedResponse, error) {
	resp, err := s.github.ListUserOrgs(ctx, auth, user)
	if err != nil {
		return nil, err
	}
	return Reduce(resp), nil
}

// All returns every page of GET /organizations with the flattened
// organizations in Orgs.
func (s *Service) All(ctx context.Context, auth github.Auth) (*github.PagedResponse, error) {
	resp, err := s.github.ListOrganizations(ctx, auth)
	if err != nil {
		return nil, err
	}
	return Reduce(resp), nil
}

// Reduce sets resp.Orgs to the concatenation of all page bodies in page
// order and returns resp.
func Reduce(resp *github.PagedResponse) *github.PagedResponse {
	resp.Orgs = resp.Flatten()
	return resp
}
