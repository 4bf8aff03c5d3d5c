package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.migrate(); err != nil {
		return err
	}
	a.logger.Info("Ops tables migrated")
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if len(args) == 1 {
		res, err := a.svc.Risk.EvaluateProject(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(res)
	}
	res, err := a.svc.Risk.Sweep(ctx, "cli")
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runSeed(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.svc.Blueprint.SeedDefaults(context.Background())
	if err != nil {
		return err
	}
	a.logger.Info("Blueprints seeded", zap.Int("created", n))
	return nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.svc.Dispatcher.Replay(context.Background(), replayLimit)
	if err != nil {
		return err
	}
	return printJSON(res)
}
