// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

// Package github provides types and a client for the read-only subset of the
// GitHub REST API used to look up users and organizations.
package github

import (
	"encoding/json"
	"maps"
	"net/http"
	"reflect"
	"strings"
	"time"
)

// Account type values reported in the "type" field of user and
// organization objects.
const (
	TypeUser         = "User"
	TypeOrganization = "Organization"
)

// Kind classifies a Record by its reported account type.
type Kind int

const (
	KindUnknown Kind = iota
	KindUser
	KindOrganization
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindOrganization:
		return "organization"
	default:
		return "unknown"
	}
}

// Record is a GitHub user or organization object. Entries returned by the
// org list endpoints are stubs that carry no Type.
//
// Members of the API object that Record does not model are kept in Extra
// and written back by MarshalJSON, so a decoded record re-encodes with every
// field GitHub sent.
type Record struct {
	Login       string    `json:"login"`
	ID          int64     `json:"id,omitempty"`
	NodeID      string    `json:"node_id,omitempty"`
	Type        string    `json:"type,omitempty"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Company     string    `json:"company,omitempty"`
	Blog        string    `json:"blog,omitempty"`
	Location    string    `json:"location,omitempty"`
	Email       string    `json:"email,omitempty"`
	URL         string    `json:"url,omitempty"`
	HTMLURL     string    `json:"html_url,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	PublicRepos int       `json:"public_repos,omitempty"`
	Followers   int       `json:"followers,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`

	Extra map[string]json.RawMessage `json:"-"`
}

// recordFields has the fields of Record without its JSON methods.
type recordFields Record

// recordKeys are the JSON member names modeled by Record.
var recordKeys = jsonKeys(reflect.TypeFor[recordFields]())

func jsonKeys(t reflect.Type) map[string]struct{} {
	keys := make(map[string]struct{}, t.NumField())
	for i := range t.NumField() {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		keys[name] = struct{}{}
	}
	return keys
}

// UnmarshalJSON decodes the modeled fields and stores all other members in
// Extra.
func (r *Record) UnmarshalJSON(data []byte) error {
	var fields recordFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	maps.DeleteFunc(members, func(k string, _ json.RawMessage) bool {
		_, ok := recordKeys[k]
		return ok
	})
	if len(members) > 0 {
		fields.Extra = members
	}

	*r = Record(fields)
	return nil
}

// MarshalJSON encodes the modeled fields merged with Extra. Modeled fields
// win over Extra members of the same name.
func (r Record) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(recordFields(r))
	if err != nil || len(r.Extra) == 0 {
		return known, err
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(known, &members); err != nil {
		return nil, err
	}
	out := maps.Clone(r.Extra)
	maps.Copy(out, members)
	return json.Marshal(out)
}

// Kind returns the classification of the record based on its Type field.
func (r Record) Kind() Kind {
	switch r.Type {
	case TypeUser:
		return KindUser
	case TypeOrganization:
		return KindOrganization
	default:
		return KindUnknown
	}
}

// Auth holds the credentials forwarded with every request. A Token takes
// precedence over Username/Password. The zero value sends no credentials.
type Auth struct {
	Token    string
	Username string
	Password string
}

// Response is a single, non-paginated API response.
type Response struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"-"`
	Body       Record      `json:"body"`
}

// Page is one response of a paginated result set.
type Page struct {
	URL        string      `json:"url"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"-"`
	Body       []Record    `json:"body"`
}

// PagedResponse holds every page fetched for a paginated request. Orgs is
// populated by Flatten's callers and is empty as returned by the client.
type PagedResponse struct {
	Pages []Page   `json:"pages"`
	Orgs  []Record `json:"orgs"`
}

// Flatten concatenates the bodies of all pages in page order.
func (p *PagedResponse) Flatten() []Record {
	n := 0
	for _, page := range p.Pages {
		n += len(page.Body)
	}
	out := make([]Record, 0, n)
	for _, page := range p.Pages {
		out = append(out, page.Body...)
	}
	return out
}
