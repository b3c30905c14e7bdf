/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"testkiln/internal/control"
	"testkiln/internal/driver"
	"testkiln/internal/logging"
	"testkiln/internal/state"
)

var createName string

// createCmd represents the create command
var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision an instance and wait until it is reachable",
	Long: `Create a boot disk and compute instance, poll until it accepts
connections, and record it in the state store. Creating an instance
that is already recorded does nothing.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		cfg := mustConfig()
		store := mustStore(cfg)
		defer store.Close()

		keyPath := ensureSSHKey(cfg)

		st, err := store.Get(ctx, createName)
		if errors.Is(err, state.ErrNotFound) {
			st = &state.Instance{}
		} else if err != nil {
			logging.Logger().Fatal("Failed to read state", zap.Error(err))
		}

		if cfg.BaseName == "" {
			cfg.BaseName = createName
		}

		drv := driver.New(cfg)
		if err := drv.Create(ctx, st); err != nil {
			logging.Logger().Fatal("Failed to create instance", zap.Error(err))
		}

		if err := store.Save(ctx, createName, st); err != nil {
			logging.Logger().Fatal("Failed to save state", zap.Error(err))
		}

		if len(cfg.SetupCommands) > 0 {
			runSetup(cfg.SetupCommands, keyPath, cfg.SSHPort, cfg.Username, st)
		}

		fmt.Printf("Instance %s ready at %s\n", st.ServerID, st.Hostname)
	},
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringVarP(&createName, "name", "n", "default", "Logical instance name in the state store")
}

func runSetup(commands []string, keyPath string, port int, user string, st *state.Instance) {
	if keyPath == "" {
		logging.Logger().Fatal("Setup commands configured but ssh_key_dir is not set")
	}

	ctrl, err := control.NewController(control.Config{
		Host:           st.Hostname,
		Port:           port,
		User:           user,
		PrivateKeyPath: keyPath,
		SSHTimeout:     30 * time.Second,
		InstanceName:   st.ServerID,
	})
	if err != nil {
		logging.Logger().Fatal("Failed to connect for setup", zap.Error(err))
	}
	defer func() {
		if err := ctrl.Close(); err != nil {
			logging.Logger().Warn("failed to close controller", zap.Error(err))
		}
	}()

	for _, command := range commands {
		if err := ctrl.Run(command); err != nil {
			logging.Logger().Fatal("Setup command failed",
				zap.String("command", command),
				zap.Error(err))
		}
	}
}
