package conn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/cockroachdb/errors"

	"github.com/hanpama/planexec/internal/identity"
	"github.com/hanpama/planexec/internal/plan"
	"github.com/hanpama/planexec/internal/vault"
)

// Credential is the outcome of resolving an auth strategy for one caller.
type Credential struct {
	Strategy string
	User     string
	Password string
	Token    string
	// Header names the HTTP header carrying Token for service stores.
	Header string
}

func (c Credential) secret() string {
	if c.Password != "" {
		return c.Password
	}
	return c.Token
}

// public drops the secret material so the result can feed pool keys and logs.
func (c Credential) public() Credential {
	c.Password = ""
	c.Token = ""
	return c
}

// Identity is a stable fingerprint of the credential. Secrets contribute only
// through a hash prefix so a rotated password yields a new pool.
func (c Credential) Identity() string {
	id := c.Strategy + ":" + c.User
	if s := c.secret(); s != "" {
		sum := sha256.Sum256([]byte(s))
		id += ":" + hex.EncodeToString(sum[:6])
	}
	return id
}

// Resolver turns auth strategies into credentials through a Vault.
type Resolver struct {
	vault vault.Vault
}

func NewResolver(v vault.Vault) *Resolver { return &Resolver{vault: v} }

// Resolve produces the credential for caller under auth. A nil vault only
// supports the test strategy.
func (r *Resolver) Resolve(ctx context.Context, caller identity.Identity, auth plan.AuthStrategy) (Credential, error) {
	cred := Credential{Strategy: auth.Type, User: auth.User, Header: auth.Header}
	switch auth.Type {
	case "", plan.AuthTest:
		cred.Strategy = plan.AuthTest
		return cred, nil
	case plan.AuthUserNamePassword:
		if auth.User == "" {
			return Credential{}, errors.New("userNamePassword strategy requires a user")
		}
		pw, err := r.lookup(ctx, auth.PasswordRef, caller)
		if err != nil {
			return Credential{}, err
		}
		cred.Password = pw
		return cred, nil
	case plan.AuthAPIToken:
		tok, err := r.lookup(ctx, auth.TokenRef, caller)
		if err != nil {
			return Credential{}, err
		}
		cred.Token = tok
		return cred, nil
	case plan.AuthDelegated:
		if caller.IsAnonymous() {
			return Credential{}, errors.New("delegated strategy requires an authenticated caller")
		}
		cred.User = caller.Name
		if auth.TokenRef != "" {
			tok, err := r.lookup(ctx, auth.TokenRef, caller)
			if err != nil {
				return Credential{}, err
			}
			cred.Token = tok
		}
		return cred, nil
	}
	return Credential{}, errors.Newf("unknown authentication strategy %q", errors.Safe(auth.Type))
}

func (r *Resolver) lookup(ctx context.Context, ref string, caller identity.Identity) (string, error) {
	if ref == "" {
		return "", errors.New("authentication strategy has no vault reference")
	}
	if r.vault == nil {
		return "", errors.Wrapf(vault.ErrSecretNotFound, "no vault configured for reference %s", errors.Safe(ref))
	}
	return r.vault.LookupSecret(ctx, ref, caller)
}
