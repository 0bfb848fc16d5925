package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/nerrad567/gray-logic-drivers/internal/auth"
	"github.com/nerrad567/gray-logic-drivers/internal/infrastructure/config"
)

// runToken implements "driverd token": it prints a signed API token. The
// secret comes from the config file or DRIVERD_API_SECRET.
func runToken(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("token", flag.ContinueOnError)
	flags.SetOutput(stderr)
	subject := flags.String("subject", "", "token subject, e.g. the client name (required)")
	role := flags.String("role", string(auth.RoleViewer), "role: viewer, operator or admin")
	ttl := flags.Duration("ttl", auth.DefaultTokenTTL, "token lifetime")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *subject == "" {
		fmt.Fprintln(stderr, "Error: -subject is required")
		flags.Usage()
		return 2
	}

	r, err := auth.ParseRole(*role)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	secret, err := tokenSecret()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	tok, err := auth.GenerateToken(*subject, r, secret, *ttl)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, tok)
	fmt.Fprintf(stderr, "token for %s (%s) expires %s\n", *subject, r, time.Now().Add(*ttl).Format(time.RFC3339))
	return 0
}

// tokenSecret reads the API secret. A missing config file falls back to
// the defaults plus environment overrides.
func tokenSecret() (string, error) {
	cfg, err := config.Load(getConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return "", err
	}
	if cfg.API.Auth.Secret == "" {
		return "", fmt.Errorf("api.auth.secret is not set")
	}
	return cfg.API.Auth.Secret, nil
}
