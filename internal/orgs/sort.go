// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

package orgs

import (
	"cmp"
	"slices"

	"github.com/andrewkroh/orgs/internal/github"
)

// SortBy sorts items in place in ascending order of key. Items with equal
// keys keep their relative order.
func SortBy[T any, K cmp.Ordered](items []T, key func(T) K) {
	slices.SortStableFunc(items, func(a, b T) int {
		return cmp.Compare(key(a), key(b))
	})
}

func byLogin(r github.Record) string { return r.Login }
