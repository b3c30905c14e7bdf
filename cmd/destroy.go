/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"testkiln/internal/driver"
	"testkiln/internal/logging"
	"testkiln/internal/state"
)

var destroyName string

// destroyCmd represents the destroy command
var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Delete a provisioned instance",
	Long: `Request deletion of the recorded instance and clear its state once
the provider accepts the request. Destroying an instance that is not
recorded does nothing.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		cfg := mustConfig()
		store := mustStore(cfg)
		defer store.Close()

		st, err := store.Get(ctx, destroyName)
		if errors.Is(err, state.ErrNotFound) {
			fmt.Printf("Instance %s is not recorded, nothing to destroy\n", destroyName)
			return
		} else if err != nil {
			logging.Logger().Fatal("Failed to read state", zap.Error(err))
		}

		drv := driver.New(cfg)
		if err := drv.Destroy(ctx, st); err != nil {
			logging.Logger().Fatal("Failed to destroy instance", zap.Error(err))
		}

		if err := store.Delete(ctx, destroyName); err != nil {
			logging.Logger().Fatal("Failed to clear state", zap.Error(err))
		}

		fmt.Printf("Instance %s destroyed\n", destroyName)
	},
}

func init() {
	rootCmd.AddCommand(destroyCmd)

	destroyCmd.Flags().StringVarP(&destroyName, "name", "n", "default", "Logical instance name in the state store")
}
