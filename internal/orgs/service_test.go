// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

package orgs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/andrewkroh/orgs/internal/github"
	"github.com/andrewkroh/orgs/internal/githubtest"
)

// mockGitHubClient implements github.Client for testing. Unset functions
// mark the test failed and return errUnexpectedCall. They never call
// t.Fatal because Resolve invokes them from its own goroutines.
type mockGitHubClient struct {
	t *testing.T

	getOrg                func(ctx context.Context, auth github.Auth, name string) (*github.Response, error)
	getUser               func(ctx context.Context, auth github.Auth, name string) (*github.Response, error)
	listUsers             func(ctx context.Context, auth github.Auth) (*github.PagedResponse, error)
	listUserOrgs          func(ctx context.Context, auth github.Auth, name string) (*github.PagedResponse, error)
	listOrganizations     func(ctx context.Context, auth github.Auth) (*github.PagedResponse, error)
	listAuthenticatedOrgs func(ctx context.Context, auth github.Auth) (*github.PagedResponse, error)
}

var errUnexpectedCall = errors.New("unexpected call")

func (m *mockGitHubClient) GetOrg(ctx context.Context, auth github.Auth, name string) (*github.Response, error) {
	if m.getOrg == nil {
		m.t.Errorf("unexpected GetOrg(%q)", name)
		return nil, errUnexpectedCall
	}
	return m.getOrg(ctx, auth, name)
}

func (m *mockGitHubClient) GetUser(ctx context.Context, auth github.Auth, name string) (*github.Response, error) {
	if m.getUser == nil {
		m.t.Errorf("unexpected GetUser(%q)", name)
		return nil, errUnexpectedCall
	}
	return m.getUser(ctx, auth, name)
}

func (m *mockGitHubClient) ListUsers(ctx context.Context, auth github.Auth) (*github.PagedResponse, error) {
	if m.listUsers == nil {
		m.t.Error("unexpected ListUsers")
		return nil, errUnexpectedCall
	}
	return m.listUsers(ctx, auth)
}

func (m *mockGitHubClient) ListUserOrgs(ctx context.Context, auth github.Auth, name string) (*github.PagedResponse, error) {
	if m.listUserOrgs == nil {
		m.t.Errorf("unexpected ListUserOrgs(%q)", name)
		return nil, errUnexpectedCall
	}
	return m.listUserOrgs(ctx, auth, name)
}

func (m *mockGitHubClient) ListOrganizations(ctx context.Context, auth github.Auth) (*github.PagedResponse, error) {
	if m.listOrganizations == nil {
		m.t.Error("unexpected ListOrganizations")
		return nil, errUnexpectedCall
	}
	return m.listOrganizations(ctx, auth)
}

func (m *mockGitHubClient) ListAuthenticatedOrgs(ctx context.Context, auth github.Auth) (*github.PagedResponse, error) {
	if m.listAuthenticatedOrgs == nil {
		m.t.Error("unexpected ListAuthenticatedOrgs")
		return nil, errUnexpectedCall
	}
	return m.listAuthenticatedOrgs(ctx, auth)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(
		nopWriter{},
		&slog.HandlerOptions{Level: slog.LevelDebug},
	))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func onePage(recs ...github.Record) *github.PagedResponse {
	return &github.PagedResponse{Pages: []github.Page{{StatusCode: 200, Body: recs}}}
}

func userResp(login, typ string) *github.Response {
	return &github.Response{StatusCode: 200, Body: github.Record{Login: login, Type: typ}}
}

func TestResolve_UserIncludesUserAndOrgs(t *testing.T) {
	var listed atomic.Int32
	gh := &mockGitHubClient{
		t: t,
		getUser: func(_ context.Context, _ github.Auth, name string) (*github.Response, error) {
			return userResp(name, github.TypeUser), nil
		},
		listUserOrgs: func(_ context.Context, _ github.Auth, name string) (*github.PagedResponse, error) {
			listed.Add(1)
			if name != "userA" {
				t.Errorf("ListUserOrgs name = %q", name)
			}
			return onePage(github.Record{Login: "orgX"}), nil
		},
	}

	got, err := New(gh, discardLogger()).Resolve(context.Background(), []string{"userA"}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l := logins(got); !equalStrings(l, []string{"orgX", "userA"}) {
		t.Fatalf("logins = %v", l)
	}
	if got[1].Type != github.TypeUser {
		t.Errorf("userA Type = %q", got[1].Type)
	}
	// Org list entries are merged as-is, without a type tag.
	if got[0].Type != "" {
		t.Errorf("orgX Type = %q, want empty", got[0].Type)
	}
	if got[0].Name != "orgX" {
		t.Errorf("orgX Name = %q, want defaulted login", got[0].Name)
	}
	if listed.Load() != 1 {
		t.Errorf("ListUserOrgs calls = %d, want 1", listed.Load())
	}
}

func TestResolve_OrganizationSkipsOrgListing(t *testing.T) {
	gh := &mockGitHubClient{
		t: t,
		getUser: func(_ context.Context, _ github.Auth, name string) (*github.Response, error) {
			return userResp(name, github.TypeOrganization), nil
		},
		// listUserOrgs is nil: calling it fails the test.
	}

	got, err := New(gh, discardLogger()).Resolve(context.Background(), []string{"orgY"}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Login != "orgY" || got[0].Type != github.TypeOrganization {
		t.Fatalf("got %+v", got)
	}
}

func TestResolve_UnknownTypeAddedDirectly(t *testing.T) {
	gh := &mockGitHubClient{
		t: t,
		getUser: func(_ context.Context, _ github.Auth, name string) (*github.Response, error) {
			return userResp(name, "Bot"), nil
		},
	}

	got, err := New(gh, discardLogger()).Resolve(context.Background(), []string{"dependabot"}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Type != "Bot" {
		t.Fatalf("got %+v", got)
	}
}

func TestResolve_DeduplicatesAndSorts(t *testing.T) {
	userOrgs := map[string][]github.Record{
		"jonschlinkert": {{Login: "micromatch"}, {Login: "node"}},
		"doowb":         {{Login: "micromatch"}, {Login: "assemble"}},
	}
	gh := &mockGitHubClient{
		t: t,
		getUser: func(_ context.Context, _ github.Auth, name string) (*github.Response, error) {
			if name == "micromatch" {
				return userResp(name, github.TypeOrganization), nil
			}
			return userResp(name, github.TypeUser), nil
		},
		listUserOrgs: func(_ context.Context, _ github.Auth, name string) (*github.PagedResponse, error) {
			return onePage(userOrgs[name]...), nil
		},
	}

	got, err := New(gh, discardLogger()).Resolve(context.Background(),
		[]string{"jonschlinkert", "micromatch", "doowb"}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"assemble", "doowb", "jonschlinkert", "micromatch", "node"}
	if l := logins(got); !equalStrings(l, want) {
		t.Fatalf("logins = %v, want %v", l, want)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].Login > got[i].Login {
			t.Errorf("not sorted at %d: %q > %q", i, got[i-1].Login, got[i].Login)
		}
	}
}

func TestResolve_UnsortedKeepsInsertionOrder(t *testing.T) {
	gh := &mockGitHubClient{
		t: t,
		getUser: func(_ context.Context, _ github.Auth, name string) (*github.Response, error) {
			return userResp(name, github.TypeUser), nil
		},
		listUserOrgs: func(_ context.Context, _ github.Auth, _ string) (*github.PagedResponse, error) {
			return onePage(github.Record{Login: "morg"}, github.Record{Login: "aorg"}), nil
		},
	}
	svc := New(gh, discardLogger())

	got, err := svc.Resolve(context.Background(), []string{"zuser"}, Options{Unsorted: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l := logins(got); !equalStrings(l, []string{"zuser", "morg", "aorg"}) {
		t.Errorf("unsorted logins = %v", l)
	}

	got, err = svc.Resolve(context.Background(), []string{"zuser"}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l := logins(got); !equalStrings(l, []string{"aorg", "morg", "zuser"}) {
		t.Errorf("sorted logins = %v", l)
	}
}

// TestResolve_UnsortedFollowsCompletionOrder holds the lookup of "a" until
// "b" has been merged, so "b" is added first.
func TestResolve_UnsortedFollowsCompletionOrder(t *testing.T) {
	bMerged := make(chan struct{})
	gh := &mockGitHubClient{
		t: t,
		getUser: func(ctx context.Context, _ github.Auth, name string) (*github.Response, error) {
			if name == "a" {
				select {
				case <-bMerged:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return userResp(name, github.TypeUser), nil
		},
		listUserOrgs: func(_ context.Context, _ github.Auth, name string) (*github.PagedResponse, error) {
			// The user record has already been merged when its orgs are listed.
			if name == "b" {
				close(bMerged)
			}
			return onePage(), nil
		},
	}

	got, err := New(gh, discardLogger()).Resolve(context.Background(), []string{"a", "b"}, Options{Unsorted: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l := logins(got); !equalStrings(l, []string{"b", "a"}) {
		t.Errorf("logins = %v, want [b a]", l)
	}
}

func TestResolve_AnyFailureFailsAll(t *testing.T) {
	gh := &mockGitHubClient{
		t: t,
		getUser: func(ctx context.Context, _ github.Auth, name string) (*github.Response, error) {
			if name == "bad" {
				return nil, &github.APIError{Method: "GET", Path: "/users/bad", StatusCode: 401, Message: "Bad credentials"}
			}
			return userResp(name, github.TypeOrganization), nil
		},
	}

	got, err := New(gh, discardLogger()).Resolve(context.Background(), []string{"good", "bad", "other"}, Options{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got != nil {
		t.Errorf("expected no partial results, got %v", logins(got))
	}
	if !errors.Is(err, github.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	var apiErr *github.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Bad credentials" {
		t.Errorf("GitHub message not preserved: %v", err)
	}
}

func TestResolve_UserOrgsFailureFailsAll(t *testing.T) {
	boom := errors.New("connection reset")
	gh := &mockGitHubClient{
		t: t,
		getUser: func(_ context.Context, _ github.Auth, name string) (*github.Response, error) {
			return userResp(name, github.TypeUser), nil
		},
		listUserOrgs: func(_ context.Context, _ github.Auth, _ string) (*github.PagedResponse, error) {
			return nil, boom
		},
	}

	_, err := New(gh, discardLogger()).Resolve(context.Background(), []string{"doowb"}, Options{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
}

func TestResolve_EmptyNames(t *testing.T) {
	gh := &mockGitHubClient{t: t}

	got, err := New(gh, discardLogger()).Resolve(context.Background(), nil, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no records, got %v", logins(got))
	}
}

func TestResolve_ForwardsAuth(t *testing.T) {
	want := github.Auth{Token: "tok"}
	gh := &mockGitHubClient{
		t: t,
		getUser: func(_ context.Context, auth github.Auth, name string) (*github.Response, error) {
			if auth != want {
				t.Errorf("GetUser auth = %+v, want %+v", auth, want)
			}
			return userResp(name, github.TypeUser), nil
		},
		listUserOrgs: func(_ context.Context, auth github.Auth, _ string) (*github.PagedResponse, error) {
			if auth != want {
				t.Errorf("ListUserOrgs auth = %+v, want %+v", auth, want)
			}
			return onePage(), nil
		},
	}

	if _, err := New(gh, discardLogger()).Resolve(context.Background(), []string{"u"}, Options{Auth: want}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolveAuthenticated(t *testing.T) {
	gh := &mockGitHubClient{
		t: t,
		listAuthenticatedOrgs: func(_ context.Context, _ github.Auth) (*github.PagedResponse, error) {
			return &github.PagedResponse{Pages: []github.Page{
				{Body: []github.Record{{Login: "zeta"}, {Login: "alpha"}}},
				{Body: []github.Record{{Login: "mid"}, {Login: "alpha", Description: "again"}}},
			}}, nil
		},
	}

	got, err := New(gh, discardLogger()).ResolveAuthenticated(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l := logins(got); !equalStrings(l, []string{"alpha", "mid", "zeta"}) {
		t.Fatalf("logins = %v", l)
	}
	for _, r := range got {
		if r.Type != github.TypeOrganization {
			t.Errorf("%s: Type = %q", r.Login, r.Type)
		}
	}
	// Page records are tagged, so the later duplicate replaces the earlier.
	if got[0].Description != "again" {
		t.Errorf("alpha Description = %q, want %q", got[0].Description, "again")
	}
}

func TestResolveAuthenticated_Error(t *testing.T) {
	gh := &mockGitHubClient{
		t: t,
		listAuthenticatedOrgs: func(_ context.Context, _ github.Auth) (*github.PagedResponse, error) {
			return nil, github.ErrUnauthorized
		},
	}

	_, err := New(gh, discardLogger()).ResolveAuthenticated(context.Background(), Options{})
	if !errors.Is(err, github.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestResolveInput(t *testing.T) {
	var authSeen []github.Auth
	gh := &mockGitHubClient{
		t: t,
		getUser: func(_ context.Context, _ github.Auth, name string) (*github.Response, error) {
			return userResp(name, github.TypeOrganization), nil
		},
		listAuthenticatedOrgs: func(_ context.Context, auth github.Auth) (*github.PagedResponse, error) {
			authSeen = append(authSeen, auth)
			return onePage(github.Record{Login: "mine"}), nil
		},
	}
	svc := New(gh, discardLogger())
	ctx := context.Background()
	defaults := Options{Auth: github.Auth{Token: "default"}}

	got, err := svc.ResolveInput(ctx, json.RawMessage(`"micromatch"`), defaults)
	if err != nil || len(got) != 1 || got[0].Login != "micromatch" {
		t.Errorf("string input: got %v, %v", logins(got), err)
	}

	got, err = svc.ResolveInput(ctx, json.RawMessage(`["micromatch","breakdance"]`), defaults)
	if err != nil || !equalStrings(logins(got), []string{"breakdance", "micromatch"}) {
		t.Errorf("array input: got %v, %v", logins(got), err)
	}

	got, err = svc.ResolveInput(ctx, json.RawMessage(`{"token":"x"}`), defaults)
	if err != nil || len(got) != 1 || got[0].Login != "mine" || got[0].Type != github.TypeOrganization {
		t.Errorf("options input: got %+v, %v", got, err)
	}

	got, err = svc.ResolveInput(ctx, json.RawMessage(`{}`), defaults)
	if err != nil || len(got) != 1 || got[0].Login != "mine" {
		t.Errorf("empty options input: got %v, %v", logins(got), err)
	}

	want := []github.Auth{{Token: "x"}, {Token: "default"}}
	if len(authSeen) != len(want) || authSeen[0] != want[0] || authSeen[1] != want[1] {
		t.Errorf("ListAuthenticatedOrgs auth = %+v, want %+v", authSeen, want)
	}

	for _, raw := range []string{"", "null", "42"} {
		got, err = svc.ResolveInput(ctx, json.RawMessage(raw), defaults)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("input %q: expected ErrInvalidInput, got %v", raw, err)
		}
		if got != nil {
			t.Errorf("input %q: expected nil records, got %v", raw, got)
		}
	}
}

func TestGet_ReturnsFullBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"login":"micromatch","type":"Organization","twitter_username":"mm","is_verified":true,"public_gists":3,"repos_url":"https://x"}`)
	}))
	defer srv.Close()

	svc := New(github.NewHTTPClient(github.WithBaseURL(srv.URL), github.WithLogger(discardLogger())), discardLogger())
	resp, err := svc.Get(context.Background(), "micromatch", github.Auth{})
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	data, err := json.Marshal(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	for _, member := range []string{`"twitter_username":"mm"`, `"is_verified":true`, `"public_gists":3`, `"repos_url":"https://x"`} {
		if !strings.Contains(string(data), member) {
			t.Errorf("re-encoded body %s is missing %s", data, member)
		}
	}
}

func TestAccessors(t *testing.T) {
	srv := githubtest.NewServer(githubtest.Fixtures{
		Users: map[string]github.Record{
			"doowb": {Login: "doowb", Type: github.TypeUser},
		},
		Orgs: map[string]github.Record{
			"micromatch": {Login: "micromatch", Type: github.TypeOrganization, Description: "globs"},
		},
		UserOrgs: map[string][]github.Record{
			"doowb": {{Login: "assemble"}, {Login: "micromatch"}, {Login: "node"}},
		},
		AllUsers: []github.Record{{Login: "u1"}, {Login: "u2"}, {Login: "u3"}},
		AllOrgs:  []github.Record{{Login: "o1"}, {Login: "o2"}},
	})
	defer srv.Close()

	svc := New(github.NewHTTPClient(github.WithBaseURL(srv.URL), github.WithLogger(discardLogger())), discardLogger())
	ctx := context.Background()

	org, err := svc.Get(ctx, "micromatch", github.Auth{})
	if err != nil || org.Body.Description != "globs" {
		t.Errorf("Get: %+v, %v", org, err)
	}

	user, err := svc.User(ctx, "doowb", github.Auth{})
	if err != nil || user.Body.Login != "doowb" {
		t.Errorf("User: %+v, %v", user, err)
	}

	userOrgs, err := svc.UserOrgs(ctx, "doowb", github.Auth{})
	if err != nil {
		t.Fatalf("UserOrgs: %v", err)
	}
	if len(userOrgs.Pages) != 2 {
		t.Errorf("UserOrgs pages = %d, want 2", len(userOrgs.Pages))
	}
	if l := logins(userOrgs.Orgs); !equalStrings(l, []string{"assemble", "micromatch", "node"}) {
		t.Errorf("UserOrgs orgs = %v", l)
	}

	users, err := svc.Users(ctx, github.Auth{})
	if err != nil || !equalStrings(logins(users.Orgs), []string{"u1", "u2", "u3"}) {
		t.Errorf("Users: %v, %v", users, err)
	}

	all, err := svc.All(ctx, github.Auth{})
	if err != nil || !equalStrings(logins(all.Orgs), []string{"o1", "o2"}) {
		t.Errorf("All: %v, %v", all, err)
	}

	if _, err := svc.Get(ctx, "missing", github.Auth{}); !errors.Is(err, github.ErrNotFound) {
		t.Errorf("Get missing: expected ErrNotFound, got %v", err)
	}
}

func TestResolve_AgainstFakeGitHub(t *testing.T) {
	srv := githubtest.NewServer(githubtest.Fixtures{
		Users: map[string]github.Record{
			"micromatch":    {Login: "micromatch", Type: github.TypeOrganization},
			"breakdance":    {Login: "breakdance", Type: github.TypeOrganization},
			"jonschlinkert": {Login: "jonschlinkert", Type: github.TypeUser, Name: "Jon Schlinkert"},
		},
		UserOrgs: map[string][]github.Record{
			"jonschlinkert": {{Login: "micromatch"}, {Login: "node"}, {Login: "assemble"}},
		},
	})
	srv.Token = "secret"
	defer srv.Close()

	svc := New(github.NewHTTPClient(github.WithBaseURL(srv.URL), github.WithLogger(discardLogger())), discardLogger())
	ctx := context.Background()

	got, err := svc.Resolve(ctx, []string{"micromatch"}, Options{Auth: github.Auth{Token: "secret"}})
	if err != nil {
		t.Fatalf("single org: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("single org: expected 1 record, got %v", logins(got))
	}
	if srv.Calls("/users/micromatch/orgs") != 0 {
		t.Error("org lookup should not list orgs")
	}

	got, err = svc.Resolve(ctx, []string{"micromatch", "breakdance"}, Options{Auth: github.Auth{Token: "secret"}})
	if err != nil || len(got) != 2 {
		t.Errorf("two orgs: got %v, %v", logins(got), err)
	}

	got, err = svc.Resolve(ctx, []string{"micromatch", "jonschlinkert"}, Options{Auth: github.Auth{Token: "secret"}})
	if err != nil {
		t.Fatalf("mixed: %v", err)
	}
	want := []string{"assemble", "jonschlinkert", "micromatch", "node"}
	if l := logins(got); !equalStrings(l, want) {
		t.Errorf("mixed: logins = %v, want %v", l, want)
	}

	_, err = svc.Resolve(ctx, []string{"micromatch"}, Options{Auth: github.Auth{Token: "foo"}})
	var apiErr *github.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Bad credentials" {
		t.Errorf("bad credentials: got %v", err)
	}
}
