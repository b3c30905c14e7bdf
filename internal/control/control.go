package control

import (
	"os"
	"time"
)

// Controller runs post-provisioning setup on a ready instance.
type Controller interface {
	// Close closes the connection
	Close() error

	// Run executes a command on the remote host
	Run(command string) error

	// WriteFile writes content to a file on the remote host
	WriteFile(remotePath, content string, mode os.FileMode) error

	// InstanceName returns the name of the controlled instance
	InstanceName() string
}

// Config defines configuration for creating controllers
type Config struct {
	Host           string
	Port           int
	User           string
	PrivateKeyPath string
	SSHTimeout     time.Duration
	InstanceName   string
}

// NewController creates a new controller based on the config. SSH is
// the only transport.
func NewController(config Config) (Controller, error) {
	return NewSSH(config)
}
