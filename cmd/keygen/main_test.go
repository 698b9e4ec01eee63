package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/enaupload/internal/store"
	"github.com/kiranshivaraju/enaupload/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestParseScopes(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{in: "submit", want: []string{"submit"}},
		{in: "submit, admin", want: []string{"submit", "admin"}},
		{in: "", want: nil},
		{in: "submit,read", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseScopes(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnsureUser_ReusesExisting(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	first, err := ensureUser(ctx, st, "alice")
	require.NoError(t, err)
	second, err := ensureUser(ctx, st, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, uuid.Nil, first.ID)
}

func TestRun_RequiresUser(t *testing.T) {
	err := run(context.Background(), nil, &bytes.Buffer{})
	assert.ErrorContains(t, err, "-user is required")
}

func TestRun_IssuesKeysIntoSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enaupload.db")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", path)
	t.Setenv("REGISTRY_ADAPTER", "mock")

	ctx := context.Background()
	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"-user", "alice", "-scopes", "submit,admin"}, &out))
	raw := strings.TrimSpace(out.String())
	require.True(t, strings.HasPrefix(raw, "ena_"), raw)

	out.Reset()
	require.NoError(t, run(ctx, []string{"-user", "alice", "-name", "ci"}, &out))

	st, err := store.NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer st.Close()

	user, err := st.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	keys, err := st.ListAPIKeys(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	byName := map[string]*models.APIKey{}
	for _, k := range keys {
		byName[k.Name] = k
	}
	assert.Equal(t, []string{"submit"}, byName["ci"].Scopes)
	assert.True(t, byName["cli"].HasScope(models.ScopeAdmin))
	assert.Equal(t, raw[:8], byName["cli"].KeyPrefix)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(byName["cli"].KeyHash), []byte(raw)))
}
