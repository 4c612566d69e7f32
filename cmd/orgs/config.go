// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/andrewkroh/orgs/internal/github"
)

// Output formats for resolved records.
const (
	formatLogin = "login"
	formatJSON  = "json"
)

// Config holds the command configuration. Values come from flags, then
// environment variables, then an optional config file.
type Config struct {
	// Names are the user or organization logins to resolve.
	Names []string

	// Auth is forwarded with every GitHub request.
	Auth github.Auth

	// BaseURL is the GitHub API base URL.
	BaseURL string

	// Mine resolves the authenticated user's organizations instead of Names.
	Mine bool

	// Unsorted keeps records in the order they were first added.
	Unsorted bool

	// Format is the output format, "login" or "json".
	Format string

	// MaxPages caps paginated requests. Zero means no limit.
	MaxPages int

	// HTTPTimeout bounds each GitHub HTTP request. Zero means no timeout.
	HTTPTimeout time.Duration

	// Listen, when set, serves the HTTP API on this address instead of
	// resolving Names once.
	Listen string

	// LogLevel is the minimum level of emitted log records.
	LogLevel slog.Level
}

// parseConfig parses CLI arguments, environment variables and the optional
// config file into a Config. It uses its own pflag.FlagSet and viper
// instance so that tests can call it without touching global state.
func parseConfig(args []string, stderr io.Writer) (*Config, error) {
	fs := pflag.NewFlagSet("orgs", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.String("token", "", "GitHub token (env GITHUB_TOKEN)")
	fs.String("username", "", "GitHub username for basic auth (env GITHUB_USERNAME)")
	fs.String("password", "", "GitHub password for basic auth (env GITHUB_PASSWORD)")
	fs.String("base-url", "https://api.github.com", "GitHub API base URL (env GITHUB_API_BASE_URL)")
	fs.Bool("mine", false, "Resolve the organizations of the authenticated user")
	fs.Bool("no-sort", false, "Keep records in the order they were found instead of sorting by login")
	fs.String("format", formatLogin, "Output format: login or json")
	fs.Int("max-pages", 0, "Maximum number of pages to fetch per paginated request (0 = no limit)")
	fs.Duration("http-timeout", 30*time.Second, "Timeout for each GitHub API request (0 = none)")
	fs.String("listen", "", "Serve the HTTP API on this address instead of resolving names")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("config", "", "Optional config file (yaml, toml or json)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("orgs")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// GitHub's conventional variables are honored after the ORGS_ ones.
	for key, env := range map[string]string{
		"token":    "GITHUB_TOKEN",
		"username": "GITHUB_USERNAME",
		"password": "GITHUB_PASSWORD",
		"base-url": "GITHUB_API_BASE_URL",
	} {
		if err := v.BindEnv(key, "ORGS_"+strings.ToUpper(strings.ReplaceAll(key, "-", "_")), env); err != nil {
			return nil, err
		}
	}

	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{
		Names: fs.Args(),
		Auth: github.Auth{
			Token:    v.GetString("token"),
			Username: v.GetString("username"),
			Password: v.GetString("password"),
		},
		BaseURL:     v.GetString("base-url"),
		Mine:        v.GetBool("mine"),
		Unsorted:    v.GetBool("no-sort"),
		Format:      v.GetString("format"),
		MaxPages:    v.GetInt("max-pages"),
		HTTPTimeout: v.GetDuration("http-timeout"),
		Listen:      v.GetString("listen"),
	}

	err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log-level")))
	if err == nil {
		err = cfg.validate()
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n\nUsage: orgs [flags] [name ...]\n", err)
		fs.PrintDefaults()
		return nil, err
	}

	return cfg, nil
}

// validate checks that the Config is internally consistent.
func (c *Config) validate() error {
	switch c.Format {
	case formatLogin, formatJSON:
	default:
		return fmt.Errorf("flag --format must be %q or %q, got %q", formatLogin, formatJSON, c.Format)
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("flag --max-pages must be non-negative, got %d", c.MaxPages)
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("flag --http-timeout must be non-negative, got %s", c.HTTPTimeout)
	}
	if c.BaseURL == "" {
		return errors.New("flag --base-url must not be empty")
	}
	if c.Auth.Username != "" && c.Auth.Password == "" && c.Auth.Token == "" {
		return errors.New("flag --password is required with --username")
	}
	if c.Listen != "" {
		if c.Mine || len(c.Names) > 0 {
			return errors.New("names and --mine cannot be combined with --listen")
		}
		return nil
	}
	if c.Mine && len(c.Names) > 0 {
		return errors.New("names cannot be combined with --mine")
	}
	if !c.Mine && len(c.Names) == 0 {
		return errors.New("at least one user or organization name is required (or --mine)")
	}
	return nil
}
