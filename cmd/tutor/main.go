// Command tutor is a terminal client for GyaanGuru. It drives the same
// tutoring sessions as the web server against a local database.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/gyaanguru/tutor/internal/attachment"
	"github.com/gyaanguru/tutor/internal/catalog"
	"github.com/gyaanguru/tutor/internal/config"
	"github.com/gyaanguru/tutor/internal/domain"
	"github.com/gyaanguru/tutor/internal/profile"
	"github.com/gyaanguru/tutor/internal/reasoning"
	"github.com/gyaanguru/tutor/internal/store"
	"github.com/gyaanguru/tutor/internal/tutor"
)

const defaultAccount = "local"

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	dbPath    string
	accountID string
	verbose   bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "tutor",
		Short:         "GyaanGuru personal tutor in the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (defaults to DB_PATH)")
	root.PersistentFlags().StringVar(&opts.accountID, "account", defaultAccount, "learner account id")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(newChatCmd(opts))
	root.AddCommand(newProfileCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	return root
}

// app holds the dependencies one command invocation needs.
type app struct {
	cfg      *config.Config
	repo     store.Repository
	profiles *profile.Loader
	logger   *slog.Logger
	account  string
}

func loadApp(ctx context.Context, opts *rootOptions, stderr io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}

	level := slog.LevelError
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	cat := catalog.Default()
	if cfg.CatalogPath != "" {
		if cat, err = catalog.Load(cfg.CatalogPath); err != nil {
			_ = repo.Close()
			return nil, err
		}
	}

	a := &app{
		cfg:      cfg,
		repo:     repo,
		profiles: profile.NewLoader(repo, cat, logger),
		logger:   logger,
		account:  opts.accountID,
	}
	if err := a.ensureAccount(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) ensureAccount(ctx context.Context) error {
	existing, err := a.repo.GetAccount(ctx, a.account)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	now := time.Now()
	if existing != nil {
		return a.repo.UpdateLastSeen(ctx, a.account, now)
	}
	return a.repo.UpsertAccount(ctx, &domain.Account{
		AccountID:   a.account,
		DisplayName: a.account,
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (a *app) Close() error {
	return a.repo.Close()
}

// sessionManager builds a manager that records history and conversation logs
// exactly like the server does.
func (a *app) sessionManager(ctx context.Context) (*tutor.Manager, func(), error) {
	completer, err := reasoning.New(ctx, a.cfg.Reasoning, a.logger)
	if err != nil {
		return nil, nil, err
	}
	convLog, err := tutor.NewConversationLogger(a.cfg.ConversationLog, a.logger)
	if err != nil {
		return nil, nil, err
	}
	mgr := tutor.NewManager(tutor.ManagerConfig{
		Profiles:  a.profiles,
		Completer: completer,
		Logger:    a.logger,
		OnCreate: []func(*tutor.Session){
			tutor.NewRecorder(a.repo, a.logger).Track,
			tutor.ConversationTap(convLog, "tutor_cli"),
		},
	})
	cleanup := func() {
		mgr.CloseAll()
		if err := convLog.Close(); err != nil {
			a.logger.Warn("failed to close conversation logger", "error", err)
		}
	}
	return mgr, cleanup, nil
}

func (a *app) uploads() (*attachment.Adapter, error) {
	fs, err := attachment.NewFileStore(a.cfg.Upload.Dir, a.cfg.Upload.PublicPrefix)
	if err != nil {
		return nil, err
	}
	return attachment.NewAdapter(fs, a.cfg.Upload.MaxBytes, a.cfg.Upload.Concurrency, a.logger), nil
}
