// Package credentials obtains database logins from a pluggable provider and
// retries the connection until it succeeds or the user gives up.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// ReservedUser is the administrative account. It is refused before any
// connection is attempted.
const ReservedUser = "root"

var (
	ErrUserAborted      = errors.New("user aborted login")
	ErrConnectionFailed = errors.New("database connection failed")
	ErrReservedUser     = errors.New("administrative user may not log experiments")
	ErrEmptyUser        = errors.New("username is required")
)

// Credentials is a database login.
type Credentials struct {
	User     string
	Password string
}

// Provider supplies credentials. prev is the reason the previous attempt was
// refused, nil on the first call. ok is false when the user declines to
// continue.
type Provider interface {
	Credentials(ctx context.Context, prev error) (creds Credentials, ok bool)
}

// Connector opens a session of type S with the given credentials.
type Connector[S any] interface {
	Connect(ctx context.Context, creds Credentials) (S, error)
}

// ConnectFunc adapts a function to the Connector interface.
type ConnectFunc[S any] func(ctx context.Context, creds Credentials) (S, error)

func (f ConnectFunc[S]) Connect(ctx context.Context, creds Credentials) (S, error) {
	return f(ctx, creds)
}

// Options tunes Acquire.
type Options struct {
	// MaxAttempts caps connection attempts; 0 means ask until the user declines.
	MaxAttempts int
	// OnAttempt is called with "ok", "failed", "rejected" or "declined".
	OnAttempt func(result string)
}

// Check refuses credentials that must never reach the server.
func Check(c Credentials) error {
	user := strings.TrimSpace(c.User)
	switch {
	case user == "":
		return ErrEmptyUser
	case user == ReservedUser:
		return ErrReservedUser
	}
	return nil
}

// Acquire asks p for credentials and connects with c until a connection is
// made. Refused credentials and connection failures are fed back to p as the
// reason for asking again. It returns ErrUserAborted when p declines or
// MaxAttempts connection attempts have failed.
func Acquire[S any](ctx context.Context, p Provider, c Connector[S], opts Options) (S, error) {
	var zero S
	observe := opts.OnAttempt
	if observe == nil {
		observe = func(string) {}
	}

	var prev error
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%w: %w", ErrUserAborted, err)
		}

		creds, ok := p.Credentials(ctx, prev)
		if !ok {
			observe("declined")
			log.Info().Int("attempts", attempts).Msg("database login declined")
			return zero, ErrUserAborted
		}

		if err := Check(creds); err != nil {
			observe("rejected")
			log.Warn().Str("user", creds.User).Err(err).Msg("credentials refused")
			prev = err
			continue
		}

		attempts++
		s, err := c.Connect(ctx, creds)
		if err == nil {
			observe("ok")
			return s, nil
		}

		observe("failed")
		log.Warn().
			Err(err).
			Str("user", creds.User).
			Int("attempt", attempts).
			Msg("database login failed")
		prev = fmt.Errorf("%w: %w", ErrConnectionFailed, err)

		if opts.MaxAttempts > 0 && attempts >= opts.MaxAttempts {
			log.Warn().Int("attempts", attempts).Msg("giving up on database login")
			return zero, fmt.Errorf("%w: %d failed attempts", ErrUserAborted, attempts)
		}
	}
}

// Static answers once with fixed credentials and declines every re-prompt.
type Static struct {
	creds Credentials
}

// NewStatic returns a Static provider.
func NewStatic(user, password string) *Static {
	return &Static{creds: Credentials{User: user, Password: password}}
}

func (s *Static) Credentials(_ context.Context, prev error) (Credentials, bool) {
	if prev != nil {
		return Credentials{}, false
	}
	return s.creds, true
}
