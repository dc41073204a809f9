package vault

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/planexec/internal/identity"
)

func TestStaticLookup(t *testing.T) {
	v := NewStatic(map[string]string{
		"db.pw":       "shared",
		"alice:db.pw": "alices",
	})
	ctx := context.Background()

	got, err := v.LookupSecret(ctx, "db.pw", identity.Identity{Name: "alice"})
	require.NoError(t, err)
	require.Equal(t, "alices", got)

	got, err = v.LookupSecret(ctx, "db.pw", identity.Identity{Name: "bob"})
	require.NoError(t, err)
	require.Equal(t, "shared", got)

	_, err = v.LookupSecret(ctx, "nope", identity.Anonymous())
	require.True(t, errors.Is(err, ErrSecretNotFound))

	v.Set("nope", "now")
	got, err = v.LookupSecret(ctx, "nope", identity.Anonymous())
	require.NoError(t, err)
	require.Equal(t, "now", got)
}
