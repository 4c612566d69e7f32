// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

package orgs

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/andrewkroh/orgs/internal/github"
)

// ErrInvalidInput is returned when the users value is not a string, an array
// of strings or an options object.
var ErrInvalidInput = errors.New("expected users to be a string or array")

// Input is a decoded users value.
type Input struct {
	// Names are the logins to resolve. Nil for the options form.
	Names []string

	// Authenticated is set when the value was an options object. The
	// caller's own organizations are resolved with Auth.
	Authenticated bool

	// Auth holds the credentials carried by the options object. It is the
	// zero value when the object had none.
	Auth github.Auth
}

// options is the options-object form of a users value. Keys other than the
// credentials are ignored.
type options struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// ParseUsers decodes a JSON users value. A string yields a one-element list
// and an array of strings yields the list. A JSON object is the options form
// and selects the authenticated caller's organizations. Anything else,
// including an absent value or null, is ErrInvalidInput.
func ParseUsers(raw json.RawMessage) (Input, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Input{}, ErrInvalidInput
	}

	switch raw[0] {
	case '"':
		var one string
		if err := json.Unmarshal(raw, &one); err != nil {
			return Input{}, ErrInvalidInput
		}
		return Input{Names: []string{one}}, nil
	case '[':
		var many []string
		if err := json.Unmarshal(raw, &many); err != nil {
			return Input{}, ErrInvalidInput
		}
		if many == nil {
			many = []string{}
		}
		return Input{Names: many}, nil
	case '{':
		var o options
		if err := json.Unmarshal(raw, &o); err != nil {
			return Input{}, ErrInvalidInput
		}
		return Input{
			Authenticated: true,
			Auth:          github.Auth{Token: o.Token, Username: o.Username, Password: o.Password},
		}, nil
	default:
		return Input{}, ErrInvalidInput
	}
}
