package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Strob0t/tideway/internal/adapter/apikey"
	"github.com/Strob0t/tideway/internal/adapter/jwtauth"
	"github.com/Strob0t/tideway/internal/config"
)

// runAdmin dispatches admin subcommands (gen-key, hash-key, issue-token).
func runAdmin(args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "gen-key":
		return runAdminGenKey(out)
	case "hash-key":
		return runAdminHashKey(args[1:], out)
	case "issue-token":
		return runAdminIssueToken(args[1:], out)
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: tideway admin <command> [options]

Commands:
  gen-key       Generate a random publisher API key
  hash-key      Print the bcrypt hash of an API key for auth.api_keys
  issue-token   Issue an HS256 JWT signed with auth.jwt_secret
  help          Show this help message

Examples:
  tideway admin gen-key
  tideway admin hash-key
  tideway admin hash-key --key my-publisher-key
  tideway admin issue-token --subject billing-service --ttl 24h
`)
}

func runAdminGenKey(out io.Writer) error {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	_, err := fmt.Fprintln(out, base64.RawURLEncoding.EncodeToString(b))
	return err
}

func runAdminHashKey(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("hash-key", flag.ContinueOnError)
	key := fs.String("key", "", "API key to hash (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}

	plain := *key
	if plain == "" {
		var err error
		plain, err = promptPassword("API key: ")
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		confirm, err := promptPassword("Confirm API key: ")
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		if plain != confirm {
			return fmt.Errorf("keys do not match")
		}
	}
	if plain == "" {
		return fmt.Errorf("key must not be empty")
	}

	hash, err := apikey.Hash(plain)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}

func runAdminIssueToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	subject := fs.String("subject", "", "token subject (required)")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	configPath := fs.String("config", "", "path to YAML config")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *subject == "" {
		return fmt.Errorf("--subject is required")
	}

	var flags config.CLIFlags
	if *configPath != "" {
		flags.ConfigPath = configPath
	}
	cfg, _, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	issuer, err := jwtauth.New(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	if err != nil {
		return err
	}
	token, err := issuer.Issue(*subject, *ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

// promptPassword reads a secret from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
