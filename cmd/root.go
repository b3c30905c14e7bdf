/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"testkiln/internal/config"
	"testkiln/internal/logging"
	"testkiln/internal/sshkey"
	"testkiln/internal/state"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "testkiln",
	Short: "Provision disposable cloud instances for test runs",
	Long: `Testkiln provisions throwaway cloud compute instances for test
automation: it creates a boot disk and instance, waits until the
instance accepts connections, and tears everything down afterwards.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is testkiln.yaml)")
}

// mustConfig loads configuration or exits.
func mustConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
	}
	return cfg
}

// mustStore opens the instance state store. Etcd is preferred when
// endpoints are configured, falling back to local files when it is
// unreachable.
func mustStore(cfg *config.Config) state.Store {
	if len(cfg.EtcdEndpoints) > 0 {
		store, err := state.NewEtcdStore(cfg.EtcdEndpoints)
		if err == nil {
			return store
		}
		logging.Logger().Warn("etcd unreachable, falling back to file state",
			zap.Strings("endpoints", cfg.EtcdEndpoints),
			zap.Error(err))
	}

	dir := cfg.StateDir
	if dir == "" {
		dir = ".testkiln/state"
	}
	store, err := state.NewFileStore(dir)
	if err != nil {
		logging.Logger().Fatal("Failed to open state store", zap.Error(err))
	}
	return store
}

// ensureSSHKey makes sure instances get a login key: when a key dir
// is configured, a pair is generated (or reused) there and its public
// half is injected through the config. Returns the private key path,
// or "" when no key dir is set.
func ensureSSHKey(cfg *config.Config) string {
	if cfg.SSHKeyDir == "" {
		return ""
	}

	keyPair, err := sshkey.GetOrGenerate(cfg.SSHKeyDir)
	if err != nil {
		logging.Logger().Fatal("Failed to prepare SSH key pair", zap.Error(err))
	}
	if cfg.SSHPublicKey == "" {
		cfg.SSHPublicKey = strings.TrimSpace(keyPair.PublicKey)
	}
	return keyPair.PrivateKeyPath
}
