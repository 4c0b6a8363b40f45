// serve.go - The daemon: store, bank, pool and HTTP server wired together
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/HamzaZF/shieldpool/internal/api"
	"github.com/HamzaZF/shieldpool/internal/bank"
	"github.com/HamzaZF/shieldpool/internal/pool"
	"github.com/HamzaZF/shieldpool/internal/store"
	"github.com/HamzaZF/shieldpool/internal/transactions/withdraw"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pool daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config %s: %w", configPath, err)
			}
			audit := ""
			if cfg.EnableAudit {
				audit = cfg.AuditLogPath
			}
			logger, err := NewLogger(cfg.LogLevel, cfg.LogFile, audit)
			if err != nil {
				return err
			}
			defer logger.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "poold.yaml", "config file, created with defaults when missing")
	return cmd
}

func serve(ctx context.Context, cfg *Config, logger *Logger) error {
	log := logger.Logger
	stopTracing, err := setupTracing(ctx, cfg.TracingEndpoint, cfg.Version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stopTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return err
	}
	db, err := store.Open(filepath.Join(cfg.DataDir, "pool.db"), cfg.SyncWrites)
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := openPool(ctx, cfg, logger, db)
	if err != nil {
		return err
	}

	health := api.NewHealthChecker(cfg.Version, nil)
	health.RegisterComponent("store", func(context.Context) error { return db.Ping() })
	srv := api.NewServer(p,
		api.WithLogger(log.With().Str("component", "api").Logger()),
		api.WithHealthChecker(health),
		api.WithRateLimiter(api.NewCallerRateLimiter(cfg.RateLimit, cfg.RateBurst)),
	)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	audit := newAuditor(p, logger.Audit, log.With().Str("component", "audit").Logger(), p.EventSeq())
	events, unsubscribe := p.Subscribe(1024)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()
		unsubscribe()
		log.Info().Msg("shutting down")
		return httpSrv.Shutdown(sctx)
	})
	g.Go(func() error {
		audit.run(events)
		return nil
	})
	return g.Wait()
}

// openPool builds the bank and the pool on top of db, seeding the bank on first start.
func openPool(ctx context.Context, cfg *Config, logger *Logger, db *store.LevelDB) (*pool.Pool, error) {
	log := logger.Logger
	owner, err := cfg.OwnerAddress()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	params, err := cfg.Params()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	tokens, err := cfg.TokenIDs()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	genesis, err := cfg.genesis()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	b, err := bank.New(ctx, common.HexToAddress(cfg.Custody), db)
	if err != nil {
		return nil, fmt.Errorf("open bank: %w", err)
	}
	if len(b.Balances()) == 0 {
		for _, g := range genesis {
			if err := b.Mint(ctx, g.account, g.token, g.amount); err != nil {
				return nil, fmt.Errorf("mint genesis balance: %w", err)
			}
		}
		log.Info().Int("accounts", len(genesis)).Msg("bank seeded")
	}

	verifier, err := buildVerifier(cfg)
	if err != nil {
		return nil, err
	}
	if _, ok := verifier.(pool.UnverifiedProofs); ok {
		log.Warn().Msg("unshield proofs are not verified")
	}

	p, err := pool.New(ctx, pool.Config{Owner: owner, Params: params, Tokens: tokens},
		pool.WithStore(db),
		pool.WithTokenLedger(b),
		pool.WithVerifier(verifier),
		pool.WithLogger(log.With().Str("component", "pool").Logger()),
	)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("owner", p.Owner().Hex()).
		Dur("mixing_period", p.MixingParameters().MixingPeriod).
		Uint32("mix_size", p.MixingParameters().MixSize).
		Int("tokens", len(p.Tokens())).
		Msg("pool ready")
	return p, nil
}

func buildVerifier(cfg *Config) (pool.ProofVerifier, error) {
	if cfg.Verifier != "groth16" {
		return pool.UnverifiedProofs{}, nil
	}
	_, vkPath := keyPaths(cfg.KeyDir)
	vk, err := withdraw.LoadVerifyingKey(vkPath)
	if err != nil {
		return nil, fmt.Errorf("load verifying key (run poold keys first): %w", err)
	}
	return withdraw.NewVerifier(vk), nil
}
