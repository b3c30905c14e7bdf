/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"testkiln/internal/fleet"
	"testkiln/internal/logging"
)

var fleetSuiteFile string

// fleetCmd represents the fleet command
var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Manage a suite of instances",
	Long: `Provision or tear down every instance a suite file describes. Each
entry gets its own driver and state record, so a rerun only touches
entries that are not up yet.`,
}

// fleetUpCmd represents the fleet up command
var fleetUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Provision every instance in the suite",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		cfg := mustConfig()
		store := mustStore(cfg)
		defer store.Close()

		suite, err := fleet.LoadSuite(fleetSuiteFile)
		if err != nil {
			logging.Logger().Fatal("Failed to load suite", zap.Error(err))
		}

		keyPath := ensureSSHKey(cfg)

		f := fleet.New(cfg, store)
		f.PrivateKeyPath = keyPath
		if err := f.Up(ctx, suite); err != nil {
			logging.Logger().Fatal("Fleet provisioning failed", zap.Error(err))
		}

		fmt.Printf("Fleet of %d instances is up\n", len(suite.Instances))
	},
}

// fleetDownCmd represents the fleet down command
var fleetDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Destroy every recorded instance",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		cfg := mustConfig()
		store := mustStore(cfg)
		defer store.Close()

		f := fleet.New(cfg, store)
		if err := f.Down(ctx); err != nil {
			logging.Logger().Fatal("Fleet teardown failed", zap.Error(err))
		}

		fmt.Println("Fleet is down")
	},
}

func init() {
	rootCmd.AddCommand(fleetCmd)
	fleetCmd.AddCommand(fleetUpCmd)
	fleetCmd.AddCommand(fleetDownCmd)

	fleetCmd.PersistentFlags().StringVarP(&fleetSuiteFile, "suite", "f", "suite.yaml", "Path to suite YAML file")
}
