// Package metactl implements the metadata store admin tool. It covers the
// bootstrap operations an operator needs before any agent runs: creating
// users, issuing API keys, and inspecting what a user owns.
package metactl

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/recallkit/recallkit/internal/metastore/storage"
	"github.com/recallkit/recallkit/internal/metastore/storage/sqlite"
	platformid "github.com/recallkit/recallkit/internal/platform/id"
)

// Config holds configuration for one admin operation.
type Config struct {
	DBPath string
	Op     string
	UserID string
	OrgID  string
	Name   string
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	fs.StringVar(&cfg.DBPath, "db", "data/metadata.db", "path to the metadata database")
	fs.StringVar(&cfg.Op, "op", "", "operation: create-user, create-key, list-agents, list-keys")
	fs.StringVar(&cfg.UserID, "user", "", "user id the operation applies to")
	fs.StringVar(&cfg.OrgID, "org", "", "organization id for create-user")
	fs.StringVar(&cfg.Name, "name", "", "display name for create-user, key name for create-key")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the configured operation and writes its result to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		return errors.New("output is required")
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	switch cfg.Op {
	case "create-user":
		return createUser(ctx, store, cfg, out)
	case "create-key":
		return createKey(ctx, store, cfg, out)
	case "list-agents":
		return listAgents(ctx, store, cfg, out)
	case "list-keys":
		return listKeys(ctx, store, cfg, out)
	case "":
		return errors.New("operation is required")
	default:
		return fmt.Errorf("unknown operation %q", cfg.Op)
	}
}

func createUser(ctx context.Context, store *sqlite.Store, cfg Config, out io.Writer) error {
	userID := cfg.UserID
	if userID == "" {
		generated, err := platformid.NewID()
		if err != nil {
			return fmt.Errorf("generate user id: %w", err)
		}
		userID = generated
	}

	if err := store.CreateUser(ctx, storage.User{
		ID:             userID,
		OrganizationID: cfg.OrgID,
		Name:           cfg.Name,
	}); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	_, err := fmt.Fprintf(out, "user %s created\n", userID)
	return err
}

func createKey(ctx context.Context, store *sqlite.Store, cfg Config, out io.Writer) error {
	if cfg.UserID == "" {
		return errors.New("user id is required")
	}
	created, err := store.CreateAPIKey(ctx, cfg.UserID, cfg.Name)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s\n", created.Key)
	return err
}

func listAgents(ctx context.Context, store *sqlite.Store, cfg Config, out io.Writer) error {
	if cfg.UserID == "" {
		return errors.New("user id is required")
	}
	token := ""
	for {
		page, err := store.ListAgentsByUser(ctx, cfg.UserID, 50, token)
		if err != nil {
			return fmt.Errorf("list agents: %w", err)
		}
		for _, agent := range page.Agents {
			if _, err := fmt.Fprintf(out, "%s\t%s\n", agent.ID, agent.Name); err != nil {
				return err
			}
		}
		if page.NextPageToken == "" {
			return nil
		}
		token = page.NextPageToken
	}
}

func listKeys(ctx context.Context, store *sqlite.Store, cfg Config, out io.Writer) error {
	if cfg.UserID == "" {
		return errors.New("user id is required")
	}
	token := ""
	for {
		page, err := store.ListAPIKeysByUser(ctx, cfg.UserID, 100, token)
		if err != nil {
			return fmt.Errorf("list api keys: %w", err)
		}
		for _, key := range page.Keys {
			if _, err := fmt.Fprintf(out, "%s\t%s\n", key.Key, key.Name); err != nil {
				return err
			}
		}
		if page.NextPageToken == "" {
			return nil
		}
		token = page.NextPageToken
	}
}
