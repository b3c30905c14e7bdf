/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"testkiln/internal/cloud"
	"testkiln/internal/logging"
)

var statusLive bool

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded instances",
	Long: `List every instance in the state store. With --live each record is
also looked up at the provider to show its current status.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		cfg := mustConfig()
		store := mustStore(cfg)
		defer store.Close()

		instances, err := store.List(ctx)
		if err != nil {
			logging.Logger().Fatal("Failed to list state", zap.Error(err))
		}

		if len(instances) == 0 {
			fmt.Println("No instances recorded")
			return
		}

		var conn cloud.Connection
		if statusLive {
			conn, err = cloud.NewConnection(ctx, cfg)
			if err != nil {
				logging.Logger().Fatal("Failed to connect to provider", zap.Error(err))
			}
		}

		for name, st := range instances {
			if !st.Provisioned() {
				fmt.Printf("%s: not provisioned\n", name)
				continue
			}

			line := fmt.Sprintf("%s: %s at %s", name, st.ServerID, st.Hostname)
			if conn != nil {
				srv, err := conn.GetServer(ctx, st.ServerID)
				if err != nil {
					line += fmt.Sprintf(" (lookup failed: %v)", err)
				} else {
					line += fmt.Sprintf(" (%s, zone %s)", srv.Status, srv.Zone)
				}
			}
			fmt.Println(line)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusLive, "live", false, "Also query the provider for each record")
}
