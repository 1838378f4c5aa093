package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/seer-pm/seer/internal/app"
	"github.com/seer-pm/seer/internal/config"
	"github.com/seer-pm/seer/internal/crypto"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "seer",
		Short:         "Seer prediction market backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to configuration file")

	// withApp loads the configuration, optionally overrides the mode and
	// hands an App to fn, closing it afterwards.
	withApp := func(cmd *cobra.Command, mode string, fn func(ctx context.Context, a *app.App, cfg *config.Config, logger *slog.Logger) error) error {
		cfg, logger, err := setup(configPath)
		if err != nil {
			return err
		}
		if mode != "" {
			cfg.Mode = mode
		}
		a := app.New(cfg, logger)
		defer a.Close()
		return fn(cmd.Context(), a, cfg, logger)
	}

	root.AddCommand(
		newServeCmd(withApp),
		newScheduleCmd(withApp),
		newDeployCmd(withApp),
		newSnapshotCmd(withApp),
		newTxCmd(withApp),
		newEncryptKeyCmd(&configPath),
	)
	return root
}

type appRunner func(cmd *cobra.Command, mode string, fn func(ctx context.Context, a *app.App, cfg *config.Config, logger *slog.Logger) error) error

func run(ctx context.Context, a *app.App, _ *config.Config, _ *slog.Logger) error {
	return a.Run(ctx)
}

func newServeCmd(withApp appRunner) *cobra.Command {
	var withScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the API endpoints, pages and websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode := "serve"
			if withScheduler {
				mode = "full"
			}
			return withApp(cmd, mode, run)
		},
	}
	cmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "also run the scheduled jobs in this process")
	return cmd
}

func newScheduleCmd(withApp appRunner) *cobra.Command {
	var job string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the scheduled background jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if job != "" {
				return withApp(cmd, "schedule", func(ctx context.Context, a *app.App, _ *config.Config, _ *slog.Logger) error {
					return a.RunJob(ctx, job)
				})
			}
			return withApp(cmd, "schedule", run)
		},
	}
	cmd.Flags().StringVar(&job, "run", "", "run one job now and exit")
	return cmd
}

func newDeployCmd(withApp appRunner) *cobra.Command {
	var (
		only    []string
		network string
	)
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the contracts of the deployment plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, "", func(ctx context.Context, a *app.App, cfg *config.Config, logger *slog.Logger) error {
				if network != "" {
					cfg.Deploy.Network = network
				}
				deployed, err := a.Deploy(ctx, only)
				for _, d := range deployed {
					fmt.Fprintf(cmd.OutOrStdout(), "%-22s %s\n", d.Name, d.Address)
				}
				return err
			})
		},
	}
	cmd.Flags().StringSliceVar(&only, "only", nil, "deploy only these plan entries")
	cmd.Flags().StringVar(&network, "network", "", "network to deploy to (overrides deploy.network)")
	return cmd
}

func newSnapshotCmd(withApp appRunner) *cobra.Command {
	var importPath string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Rebuild the all-markets blob",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, "", func(ctx context.Context, a *app.App, _ *config.Config, logger *slog.Logger) error {
				n, err := a.Snapshot(ctx, importPath)
				if err != nil {
					return err
				}
				logger.Info("snapshot written", slog.Int("markets", n))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&importPath, "import", "", "JSON file of markets to upsert before the snapshot")
	return cmd
}

func newTxCmd(withApp appRunner) *cobra.Command {
	var chainID uint64
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Send relayer transactions",
	}
	cmd.PersistentFlags().Uint64Var(&chainID, "chain", 100, "chain id")

	cmd.AddCommand(&cobra.Command{
		Use:   "resolve <market>",
		Short: "Resolve a market through the Reality proxy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, "", func(ctx context.Context, a *app.App, _ *config.Config, _ *slog.Logger) error {
				receipt, err := a.ResolveMarket(ctx, chainID, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), receipt.TxHash.Hex())
				return nil
			})
		},
	}, &cobra.Command{
		Use:   "claim <account>",
		Short: "Claim the airdrop allocation of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, "", func(ctx context.Context, a *app.App, _ *config.Config, _ *slog.Logger) error {
				receipt, err := a.ClaimAirdrop(ctx, chainID, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), receipt.TxHash.Hex())
				return nil
			})
		},
	})
	return cmd
}

func newEncryptKeyCmd(configPath *string) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "encrypt-key",
		Short: "Encrypt chain.private_key with chain.key_password into a key file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			if cfg.Chain.PrivateKey == "" || cfg.Chain.KeyPassword == "" {
				return fmt.Errorf("encrypt-key: chain.private_key and chain.key_password are required")
			}
			if out == "" {
				out = cfg.Chain.EncryptedKeyPath
			}
			if out == "" {
				return fmt.Errorf("encrypt-key: no output path (--out or chain.encrypted_key_path)")
			}
			data, err := crypto.EncryptKey(cfg.Chain.PrivateKey, cfg.Chain.KeyPassword)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("encrypt-key: %w", err)
			}
			logger.Info("key file written", slog.String("path", out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "key file to write")
	return cmd
}
