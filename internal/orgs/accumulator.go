// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

package orgs

import (
	"sync"

	"github.com/andrewkroh/orgs/internal/github"
)

// Accumulator merges user and organization records into a single collection
// with one entry per login, kept in the order logins were first seen. It is
// safe for concurrent use.
//
// Merge policy: a record for an unseen login is appended. A record for a
// known login replaces the existing entry only when it carries a Type, so a
// typed record supersedes an untyped stub from an org listing. Untyped
// records for known logins are dropped, even if they hold newer fields.
type Accumulator struct {
	mu      sync.Mutex
	index   map[string]int
	records []github.Record
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{index: make(map[string]int)}
}

// Add merges a single record.
func (a *Accumulator) Add(rec github.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.add(rec)
}

// AddAll merges each record in order.
func (a *Accumulator) AddAll(recs []github.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rec := range recs {
		a.add(rec)
	}
}

// AddPages merges every record of every page in page order. Records are
// tagged as organizations before merging, which lets them replace earlier
// entries for the same login.
func (a *Accumulator) AddPages(resp *github.PagedResponse) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, page := range resp.Pages {
		for _, rec := range page.Body {
			rec.Type = github.TypeOrganization
			a.add(rec)
		}
	}
}

// add must be called with a.mu held.
func (a *Accumulator) add(rec github.Record) {
	if rec.Name == "" {
		rec.Name = rec.Login
	}

	idx, ok := a.index[rec.Login]
	switch {
	case !ok:
		a.index[rec.Login] = len(a.records)
		a.records = append(a.records, rec)
	case rec.Type != "":
		a.records[idx] = rec
	}
}

// Len returns the number of distinct logins.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// Records returns a copy of the merged records in insertion order.
func (a *Accumulator) Records() []github.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]github.Record, len(a.records))
	copy(out, a.records)
	return out
}
