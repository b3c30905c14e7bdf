package control

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"testkiln/internal/logging"
)

const defaultSSHTimeout = 30 * time.Second

// SSH controls a remote instance over an SSH connection, with SFTP
// for file pushes.
type SSH struct {
	client       *ssh.Client
	sftpClient   *sftp.Client
	host         string
	user         string
	instanceName string
}

// escapeNewlines escapes newline characters for proper log formatting
func escapeNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", "\\n")
}

// safeClose safely closes a resource and logs any errors
func safeClose(name string, closer func() error) {
	if err := closer(); err != nil {
		logging.Logger().Warn("failed to close resource",
			zap.String("resource", name),
			zap.Error(err))
	}
}

// NewSSH connects to the instance. The driver has already waited for
// the SSH port, so a failed dial is reported immediately.
func NewSSH(config Config) (*SSH, error) {
	keyBytes, err := os.ReadFile(config.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	timeout := config.SSHTimeout
	if timeout == 0 {
		timeout = defaultSSHTimeout
	}
	port := config.Port
	if port == 0 {
		port = 22
	}

	clientConfig := &ssh.ClientConfig{
		User: config.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		// Freshly provisioned instances have unknown host keys
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	client, err := ssh.Dial("tcp", net.JoinHostPort(config.Host, strconv.Itoa(port)), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial SSH: %w", err)
	}

	logging.Logger().Info("SSH connection established",
		zap.String("user", config.User),
		zap.String("host", config.Host),
		zap.String("instance_name", config.InstanceName))

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	return &SSH{
		client:       client,
		sftpClient:   sftpClient,
		host:         config.Host,
		user:         config.User,
		instanceName: config.InstanceName,
	}, nil
}

// Close closes the SFTP and SSH connections
func (s *SSH) Close() error {
	if s.sftpClient != nil {
		safeClose("SFTP client", s.sftpClient.Close)
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// InstanceName returns the name of the controlled instance
func (s *SSH) InstanceName() string {
	return s.instanceName
}

// Run executes a command on the remote host
func (s *SSH) Run(command string) error {
	session, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer safeClose("SSH session", session.Close)

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	logging.Logger().Debug("Executing command",
		zap.String("command", logging.Truncate(command)),
		zap.String("host", s.host),
		zap.String("instance_name", s.instanceName))

	err = session.Run(command)

	logging.Logger().Info("Command executed",
		zap.String("command", logging.Truncate(command)),
		zap.String("host", s.host),
		zap.String("instance_name", s.instanceName),
		zap.String("stdout", escapeNewlines(logging.Truncate(stdout.String()))),
		zap.String("stderr", escapeNewlines(logging.Truncate(stderr.String()))),
		zap.Bool("success", err == nil))

	return err
}

// WriteFile writes content to a file on the remote host using SFTP,
// creating parent directories as needed.
func (s *SSH) WriteFile(remotePath, content string, mode os.FileMode) error {
	if dir := sftpDir(remotePath); dir != "" {
		if err := s.sftpClient.MkdirAll(dir); err != nil {
			return fmt.Errorf("failed to create remote directory: %w", err)
		}
	}

	file, err := s.sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	defer safeClose("remote file", file.Close)

	if _, err := file.Write([]byte(content)); err != nil {
		return fmt.Errorf("failed to write remote file: %w", err)
	}
	if err := s.sftpClient.Chmod(remotePath, mode); err != nil {
		return fmt.Errorf("failed to chmod remote file: %w", err)
	}

	logging.Logger().Info("File written over SFTP",
		zap.String("remote_path", remotePath),
		zap.String("host", s.host),
		zap.String("instance_name", s.instanceName),
		zap.Int("size_bytes", len(content)))

	return nil
}

// sftpDir returns the remote parent directory; SFTP paths always use
// forward slashes.
func sftpDir(remotePath string) string {
	i := strings.LastIndex(remotePath, "/")
	if i <= 0 {
		return ""
	}
	return remotePath[:i]
}
