// Command keygen issues an API key for a user, creating the user on first
// use. The raw key is printed once; only its bcrypt hash is stored.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/enaupload/internal/api/middleware"
	"github.com/kiranshivaraju/enaupload/internal/config"
	"github.com/kiranshivaraju/enaupload/internal/store"
	"github.com/kiranshivaraju/enaupload/pkg/models"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		slog.Error("keygen failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	username := fs.String("user", "", "username to issue the key for (created if missing)")
	name := fs.String("name", "cli", "label stored with the key")
	scopes := fs.String("scopes", models.ScopeSubmit, "comma separated scopes: submit, admin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*username) == "" {
		return errors.New("-user is required")
	}
	scopeList, err := parseScopes(*scopes)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, closeStore, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	user, err := ensureUser(ctx, st, strings.TrimSpace(*username))
	if err != nil {
		return err
	}
	key, raw, err := mw.IssueKey(user.ID, *name, scopeList)
	if err != nil {
		return err
	}
	if err := st.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("store key: %w", err)
	}

	slog.Info("api key issued", "user", user.Username, "key_prefix", key.KeyPrefix, "scopes", key.Scopes)
	_, err = fmt.Fprintln(out, raw)
	return err
}

func parseScopes(s string) ([]string, error) {
	var out []string
	for _, scope := range strings.Split(s, ",") {
		scope = strings.TrimSpace(scope)
		switch scope {
		case "":
		case models.ScopeSubmit, models.ScopeAdmin:
			out = append(out, scope)
		default:
			return nil, fmt.Errorf("unknown scope %q", scope)
		}
	}
	return out, nil
}

type userStore interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
}

func ensureUser(ctx context.Context, st userStore, username string) (*models.User, error) {
	user, err := st.GetUserByUsername(ctx, username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get user: %w", err)
	}

	now := time.Now().UTC()
	user = &models.User{ID: uuid.New(), Username: username, CreatedAt: now, UpdatedAt: now}
	if err := st.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	slog.Info("user created", "user", username, "id", user.ID)
	return user, nil
}
