// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

// Package orgs resolves GitHub user and organization names into a merged,
// de-duplicated list of organization and user records.
package orgs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/andrewkroh/orgs/internal/github"
)

const instrumentationName = "github.com/andrewkroh/orgs/internal/orgs"

// Result attribute values used for OTel metrics and spans.
const (
	resultSuccess = "success"
	resultInvalid = "invalid"
	resultError   = "error"
)

// Options controls a resolution.
type Options struct {
	// Auth is forwarded unchanged with every GitHub request.
	Auth github.Auth

	// Unsorted keeps records in the order they were first added instead of
	// sorting them by login.
	Unsorted bool
}

// Service resolves names against the GitHub API and exposes the
// single-request accessors.
type Service struct {
	github github.Client
	log    *slog.Logger

	tracer       trace.Tracer
	resolveTotal metric.Int64Counter
	lookupTotal  metric.Int64Counter
}

// New creates a new Service backed by the given GitHub client.
func New(ghClient github.Client, log *slog.Logger) *Service {
	meter := otel.Meter(instrumentationName)

	resolveTotal, _ := meter.Int64Counter("orgs.resolve.total",
		metric.WithDescription("Total number of resolutions"),
	)
	lookupTotal, _ := meter.Int64Counter("orgs.lookup.total",
		metric.WithDescription("Total number of per-name lookups by resolved kind"),
	)

	return &Service{
		github:       ghClient,
		log:          log,
		tracer:       otel.Tracer(instrumentationName),
		resolveTotal: resolveTotal,
		lookupTotal:  lookupTotal,
	}
}

// Resolve looks up every name concurrently and returns the merged records.
//
// Each name is fetched from /users/:name. When it is a user, the user record
// and all of the user's organizations are merged. Otherwise the record itself
// is merged. If any lookup fails, Resolve returns that error and no records.
func (s *Service) Resolve(ctx context.Context, names []string, opts Options) ([]github.Record, error) {
	ctx, span := s.tracer.Start(ctx, "orgs.resolve")
	defer span.End()

	span.SetAttributes(attribute.Int("orgs.names", len(names)))

	acc := NewAccumulator()
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			return s.lookup(gctx, acc, name, opts.Auth)
		})
	}

	if err := g.Wait(); err != nil {
		s.fail(ctx, span, err)
		return nil, err
	}

	return s.finish(ctx, span, acc, opts), nil
}

// ResolveAuthenticated returns the organizations of the authenticated caller.
func (s *Service) ResolveAuthenticated(ctx context.Context, opts Options) ([]github.Record, error) {
	ctx, span := s.tracer.Start(ctx, "orgs.resolve_authenticated")
	defer span.End()

	resp, err := s.github.ListAuthenticatedOrgs(ctx, opts.Auth)
	if err != nil {
		err = fmt.Errorf("listing authenticated user orgs: %w", err)
		s.fail(ctx, span, err)
		return nil, err
	}

	acc := NewAccumulator()
	acc.AddPages(resp)

	return s.finish(ctx, span, acc, opts), nil
}

// ResolveInput resolves a JSON users value as decoded by ParseUsers. An
// options object resolves the authenticated caller's organizations. Its
// credentials, when it has any, replace opts.Auth.
func (s *Service) ResolveInput(ctx context.Context, users json.RawMessage, opts Options) ([]github.Record, error) {
	in, err := ParseUsers(users)
	if err != nil {
		s.resolveTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", resultInvalid)))
		return nil, err
	}
	if in.Authenticated {
		if in.Auth != (github.Auth{}) {
			opts.Auth = in.Auth
		}
		return s.ResolveAuthenticated(ctx, opts)
	}
	return s.Resolve(ctx, in.Names, opts)
}

// lookup classifies one name and merges what it finds into acc.
func (s *Service) lookup(ctx context.Context, acc *Accumulator, name string, auth github.Auth) error {
	resp, err := s.github.GetUser(ctx, auth, name)
	if err != nil {
		return fmt.Errorf("getting user %q: %w", name, err)
	}
	rec := resp.Body
	kind := rec.Kind()

	s.lookupTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))

	switch kind {
	case github.KindUser:
		acc.Add(rec)

		orgs, err := s.UserOrgs(ctx, name, auth)
		if err != nil {
			return fmt.Errorf("listing orgs of user %q: %w", name, err)
		}
		acc.AddAll(orgs.Orgs)

		s.log.DebugContext(ctx, "Resolved user",
			slog.String("login", rec.Login),
			slog.Int("orgs", len(orgs.Orgs)),
		)
	case github.KindOrganization, github.KindUnknown:
		acc.Add(rec)

		s.log.DebugContext(ctx, "Resolved name",
			slog.String("login", rec.Login),
			slog.String("kind", kind.String()),
		)
	}
	return nil
}

func (s *Service) finish(ctx context.Context, span trace.Span, acc *Accumulator, opts Options) []github.Record {
	recs := acc.Records()
	if !opts.Unsorted {
		SortBy(recs, byLogin)
	}

	span.SetAttributes(
		attribute.Int("orgs.records", len(recs)),
		attribute.String("orgs.result", resultSuccess),
	)
	s.resolveTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", resultSuccess)))

	s.log.InfoContext(ctx, "Resolution succeeded",
		slog.Int("records", len(recs)),
		slog.Bool("sorted", !opts.Unsorted),
	)
	return recs
}

func (s *Service) fail(ctx context.Context, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("orgs.result", resultError))
	s.resolveTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", resultError)))

	level := slog.LevelError
	if errors.Is(err, github.ErrUnauthorized) || errors.Is(err, github.ErrNotFound) {
		level = slog.LevelWarn
	}
	s.log.Log(ctx, level, "Resolution failed", slog.String("error", err.Error()))
}
