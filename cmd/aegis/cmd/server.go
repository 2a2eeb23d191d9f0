package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/aegis/api"
	"github.com/jmcleod/aegis/idle"
	"github.com/jmcleod/aegis/mfa"
	"github.com/jmcleod/aegis/notify"
	"github.com/jmcleod/aegis/session"
	"github.com/jmcleod/aegis/storage"
	bboltstorage "github.com/jmcleod/aegis/storage/bbolt"
	pgstorage "github.com/jmcleod/aegis/storage/postgres"
	"github.com/jmcleod/aegis/vault"
)

var (
	port         int
	dataDir      string
	dbDSN        string
	vaultKey     string
	jwtSecret    string
	accountsPath string
	issuer       string
	maxSessions  int
	maxHistory   int
	idleTimeout  time.Duration
	idleWarning  time.Duration
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the account security server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
		ctx := cmd.Context()

		if vaultKey == "" {
			vaultKey = os.Getenv("AEGIS_VAULT_KEY")
		}
		if jwtSecret == "" {
			jwtSecret = os.Getenv("AEGIS_JWT_SECRET")
		}
		if jwtSecret == "" {
			return errors.New("a JWT secret is required (--jwt-secret or AEGIS_JWT_SECRET)")
		}

		var store storage.Store
		if dbDSN != "" {
			pg, err := pgstorage.NewStoreFromDSN(ctx, dbDSN)
			if err != nil {
				return fmt.Errorf("failed to open postgres storage: %w", err)
			}
			defer pg.Close()
			store = pg
		} else {
			if err := os.MkdirAll(dataDir, 0o700); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}
			bolt, err := bboltstorage.NewStoreFromFile(dataDir+"/aegis.db", nil)
			if err != nil {
				return fmt.Errorf("failed to open storage: %w", err)
			}
			defer bolt.Close()
			store = bolt
		}

		directory, err := loadDirectory(accountsPath)
		if err != nil {
			return err
		}

		vaultOpts := []vault.Option{vault.WithLogger(logger)}
		if vaultKey != "" {
			vaultOpts = append(vaultOpts, vault.WithPassphrase(vaultKey))
		}
		v, err := vault.New(store, vaultOpts...)
		if err != nil {
			return fmt.Errorf("failed to initialize vault: %w", err)
		}

		registry := session.NewRegistry(store,
			session.WithMaxSessions(maxSessions),
			session.WithLogger(logger))
		ledger := session.NewLedger(store,
			session.WithMaxHistory(maxHistory),
			session.WithLedgerLogger(logger))
		manager := mfa.NewManager(store, v,
			mfa.WithIssuer(issuer),
			mfa.WithRecorder(ledger),
			mfa.WithLogger(logger))
		supervisor := idle.NewSupervisor(registry,
			idle.WithSupervisorConfig(idle.Config{Timeout: idleTimeout, Warning: idleWarning, Throttle: idle.DefaultThrottle}),
			idle.WithSupervisorNotifier(notify.NewLogNotifier(logger)),
			idle.WithSupervisorLogger(logger))
		defer supervisor.Stop()

		a := api.New(directory, v, manager, registry, ledger, []byte(jwtSecret),
			api.WithLogger(logger),
			api.WithSupervisor(supervisor))

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/api/v1", a.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		fmt.Printf("Starting server on port %d...\n", port)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// loadDirectory reads the account file: a JSON object mapping usernames
// to {"owner_id": ..., "password": ...}.
func loadDirectory(path string) (api.Directory, error) {
	if path == "" {
		return api.StaticDirectory{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open accounts file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}
	var raw map[string]struct {
		OwnerID  string `json:"owner_id"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse accounts file: %w", err)
	}

	directory := make(api.StaticDirectory, len(raw))
	for username, account := range raw {
		directory[username] = api.StaticAccount{
			OwnerID:  account.OwnerID,
			Password: account.Password,
		}
	}
	return directory, nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for embedded persistent data")
	serverCmd.Flags().StringVar(&dbDSN, "db-dsn", "", "Postgres DSN; embedded storage is used when empty")
	serverCmd.Flags().StringVar(&vaultKey, "vault-key", "", "Vault master key passphrase (or AEGIS_VAULT_KEY)")
	serverCmd.Flags().StringVar(&jwtSecret, "jwt-secret", "", "HMAC secret for bearer tokens (or AEGIS_JWT_SECRET)")
	serverCmd.Flags().StringVar(&accountsPath, "accounts", "", "Path to the JSON accounts file")
	serverCmd.Flags().StringVar(&issuer, "issuer", "Aegis", "Issuer label in MFA enrollment URIs")
	serverCmd.Flags().IntVar(&maxSessions, "max-sessions", session.DefaultMaxSessions, "Active sessions allowed per account")
	serverCmd.Flags().IntVar(&maxHistory, "max-history", session.DefaultMaxHistory, "Login history records kept per account")
	serverCmd.Flags().DurationVar(&idleTimeout, "idle-timeout", idle.DefaultTimeout, "Inactivity window before forced logout")
	serverCmd.Flags().DurationVar(&idleWarning, "idle-warning", idle.DefaultWarning, "Warning period before the idle timeout")
}
