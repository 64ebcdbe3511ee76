// Command tether-token issues operator credentials for a tether server.
//
// A JWT is signed with TETHER_JWT_SECRET:
//
//	tether-token -subject alice -role admin -ttl 24h
//
// An API key prints the raw key once together with the TETHER_API_KEYS entry:
//
//	tether-token -apikey -subject trader-bot -role agent
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/auth"
)

func main() {
	if err := run(os.Args[1:], os.Getenv("TETHER_JWT_SECRET"), os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("tether-token")
	}
}

func run(args []string, secret string, out io.Writer) error {
	fs := flag.NewFlagSet("tether-token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	subject := fs.String("subject", "", "principal name")
	role := fs.String("role", auth.RoleViewer, "admin, viewer or agent")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	apiKey := fs.Bool("apikey", false, "generate an API key instead of a JWT")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *subject == "" {
		return errors.New("-subject is required")
	}
	if !auth.ValidRole(*role) {
		return fmt.Errorf("unknown role %q", *role)
	}

	if *apiKey {
		raw, hash, err := auth.GenerateAPIKey()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "key:   %s\nentry: %s:%s:%s\n", raw, *subject, *role, hash)
		return err
	}

	if len(secret) < 32 {
		return errors.New("TETHER_JWT_SECRET must be set to at least 32 characters")
	}
	if *ttl <= 0 {
		return errors.New("-ttl must be positive")
	}
	tok, err := auth.IssueToken(secret, *subject, *role, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, tok)
	return err
}
