// main.go - Entry point for the pool daemon
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"veilpool/internal/nullifier"
	"veilpool/internal/pool"
)

const version = "0.3.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "poold",
		Short:        "Shielded pool daemon",
		Long:         "poold runs the shielded value-transfer pool: a Merkle commitment accumulator,\nnullifier registry and Groth16 withdrawal gateway behind a small REST API.",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "poold.json", "path to the config file")

	root.AddCommand(
		newRunCmd(&configPath),
		newInitConfigCmd(&configPath),
		newStatusCmd(&configPath),
	)
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(*configPath)
		},
	}
}

func newInitConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(*configPath); err == nil {
				return fmt.Errorf("config file %s already exists", *configPath)
			}
			if err := SaveConfig(DefaultConfig(), *configPath); err != nil {
				return err
			}
			cmd.Printf("wrote default config to %s\n", *configPath)
			return nil
		},
	}
}

func newStatusCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running daemon for its pool state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = DefaultConfig().ListenAddr
				if _, err := os.Stat(*configPath); err == nil {
					cfg, err := LoadConfig(*configPath)
					if err != nil {
						return err
					}
					addr = cfg.ListenAddr
				}
			}
			if strings.HasPrefix(addr, ":") {
				addr = "127.0.0.1" + addr
			}

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get("http://" + addr + "/state")
			if err != nil {
				return fmt.Errorf("failed to reach daemon at %s: %w", addr, err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("daemon returned %s: %s", resp.Status, bytes.TrimSpace(body))
			}

			var buf bytes.Buffer
			if err := json.Indent(&buf, body, "", "  "); err != nil {
				cmd.Println(string(body))
				return nil
			}
			cmd.Println(buf.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "daemon address, defaults to listen_addr from the config")
	return cmd
}

func runDaemon(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	log.Info().Str("version", version).Str("config", configPath).Msg("starting poold")

	var registry nullifier.Registry
	if cfg.NullifierDBPath != "" {
		store, err := nullifier.NewStore(cfg.NullifierDBPath)
		if err != nil {
			return fmt.Errorf("failed to open nullifier store: %w", err)
		}
		registry = store
	}

	p, err := pool.New(cfg.poolConfig(), nil, registry, log)
	if err != nil {
		return err
	}
	defer p.Close()

	if cfg.SnapshotPath != "" {
		if _, statErr := os.Stat(cfg.SnapshotPath); statErr == nil {
			if err := p.LoadState(cfg.SnapshotPath); err != nil {
				return fmt.Errorf("failed to load snapshot: %w", err)
			}
		}
	}

	if !p.Status().Initialized {
		params, err := cfg.initParams()
		if err != nil {
			return err
		}
		if params != nil {
			if err := p.Initialize(*params); err != nil {
				return fmt.Errorf("failed to initialize pool: %w", err)
			}
		} else {
			log.Warn().Msg("pool uninitialized and config carries no key material, operations will be refused")
		}
	}

	metrics := NewMetricsCollector()
	health := NewHealthChecker(version)
	health.RegisterComponent("pool", func() error {
		if !p.Status().Initialized {
			return nil
		}
		return p.Reconcile()
	})
	health.RegisterComponent("nullifier_registry", func() error {
		_, err := p.Nullifiers()
		return err
	})
	if cfg.SnapshotPath != "" {
		// Updated by the maintenance loop after each save attempt.
		health.RegisterComponent("snapshot", nil)
	}

	srv := newServer(cfg, p, metrics, health, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		return srv.ListenAndServe()
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		interval := time.Duration(cfg.SnapshotIntervalSeconds) * time.Second
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				maintain(cfg, p, health, log)
			}
		}
	})

	err = g.Wait()

	if cfg.SnapshotPath != "" {
		if saveErr := p.SaveState(cfg.SnapshotPath); saveErr != nil {
			log.Error().Err(saveErr).Msg("final snapshot failed")
			if err == nil {
				err = saveErr
			}
		}
	}
	log.Info().Msg("poold stopped")
	return err
}

// maintain persists the state and reconciles the ledger on each tick.
func maintain(cfg *Config, p *pool.Pool, health *HealthChecker, log zerolog.Logger) {
	if cfg.SnapshotPath != "" {
		if err := p.SaveState(cfg.SnapshotPath); err != nil {
			log.Error().Err(err).Msg("periodic snapshot failed")
			health.UpdateComponent("snapshot", Unhealthy, err.Error())
		} else {
			health.UpdateComponent("snapshot", Healthy, "OK")
		}
	}
	if p.Status().Initialized {
		if err := p.Reconcile(); err != nil {
			log.Error().Err(err).Msg("ledger reconciliation failed")
		}
	}
}
