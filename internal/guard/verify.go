package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.io/infrasutra/cwmail/internal/config"
	"github.io/infrasutra/cwmail/internal/mailapi"
)

// Trust accepts any stored token without checking it.
type Trust struct{}

func (Trust) Verify(context.Context, string) error {
	return nil
}

// Claims reads the token as a JWT, without checking the signature, and
// rejects it once its exp claim has passed. Tokens that are not JWTs are
// accepted as opaque.
type Claims struct {
	Now func() time.Time
}

func (c Claims) Verify(_ context.Context, token string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if exp == nil {
		return nil
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	if !now().Before(exp.Time) {
		return fmt.Errorf("%w: expired at %s", ErrRejected, exp.Time.UTC().Format(time.RFC3339))
	}
	return nil
}

// Accounts is the remote call the Remote verifier makes.
type Accounts interface {
	Me(ctx context.Context, token string) (*mailapi.User, error)
}

// Remote asks the mail service who the token belongs to.
type Remote struct {
	Accounts Accounts
}

func (v Remote) Verify(ctx context.Context, token string) error {
	if _, err := v.Accounts.Me(ctx, token); err != nil {
		if mailapi.IsUnauthorized(err) {
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}
		return err
	}
	return nil
}

// NewVerifier maps a SESSION_VERIFY mode to its verifier.
func NewVerifier(mode string, accounts Accounts) (Verifier, error) {
	switch mode {
	case "", config.VerifyNone:
		return Trust{}, nil
	case config.VerifyClaims:
		return Claims{}, nil
	case config.VerifyRemote:
		if accounts == nil {
			return nil, errors.New("remote verification needs an accounts client")
		}
		return Remote{Accounts: accounts}, nil
	default:
		return nil, fmt.Errorf("unknown session verification mode %q", mode)
	}
}
