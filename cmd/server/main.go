package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Tyrowin/chatpro/internal/logger"
	"github.com/Tyrowin/chatpro/internal/server"
	"github.com/Tyrowin/chatpro/internal/store"
)

var (
	configFile string
	v          = server.NewViper()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "chatpro",
	Short:        "Real-time chat server with live delivery over WebSockets.",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Migrate the database and serve the API and /ws until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		log.Info("database migrated", zap.String("dsn", cfg.Database.DSN))
		return st.Close()
	},
}

// init defines the flags. Each one is bound into viper so it overrides the
// config file and CHATPRO_ environment variables.
func init() {
	d := server.DefaultConfig()
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "",
		"Config file path. Defaults to ./chatpro.yaml when present.")
	pf.StringP("port", "p", d.Server.Port, "Listen address.")
	pf.StringSlice("allowed-origins", d.Server.AllowedOrigins,
		"Origins allowed to open sockets and make CORS requests. \"*\" allows all.")
	pf.String("dsn", d.Database.DSN, "sqlite database file.")
	pf.String("uploads-dir", d.Uploads.Dir, "Directory for uploaded images.")
	pf.String("jwt-secret", "", "HMAC secret used to sign tokens.")
	pf.StringP("log-level", "v", d.Log.Level, "Log level: debug, info, warn, error.")

	for key, flag := range map[string]string{
		"server.port":           "port",
		"server.allowedOrigins": "allowed-origins",
		"database.dsn":          "dsn",
		"uploads.dir":           "uploads-dir",
		"jwt.secret":            "jwt-secret",
		"log.level":             "log-level",
	} {
		if err := v.BindPFlag(key, pf.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func setup() (server.Config, *zap.Logger, error) {
	cfg, err := server.Load(v, configFile)
	if err != nil {
		return server.Config{}, nil, err
	}
	if err := logger.Initialize(cfg.Log.Level); err != nil {
		return server.Config{}, nil, errors.WithMessage(err, "initialize logger")
	}
	return cfg, logger.Log, nil
}

func openStore(ctx context.Context, cfg server.Config) (*store.GormStore, error) {
	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func runServe(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	srv, err := server.New(cfg, st, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-serveErr
}
