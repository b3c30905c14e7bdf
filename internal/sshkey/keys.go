package sshkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

const (
	privateKeyName = "testkiln_ed25519"
	publicKeyName  = "testkiln_ed25519.pub"
)

// KeyPair is an on-disk SSH key pair used to log into provisioned
// instances. PublicKey is the authorized_keys line injected through
// provider metadata.
type KeyPair struct {
	PrivateKeyPath string
	PublicKeyPath  string
	PublicKey      string
}

// GetOrGenerate reuses the key pair under keyDir, creating an ed25519
// pair on first use.
func GetOrGenerate(keyDir string) (*KeyPair, error) {
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	kp := &KeyPair{
		PrivateKeyPath: filepath.Join(keyDir, privateKeyName),
		PublicKeyPath:  filepath.Join(keyDir, publicKeyName),
	}

	if _, err := os.Stat(kp.PrivateKeyPath); err == nil {
		return loadExisting(kp)
	}

	return generate(kp)
}

func generate(kp *KeyPair) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.WriteFile(kp.PrivateKeyPath, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	kp.PublicKey = string(ssh.MarshalAuthorizedKey(sshPub))
	if err := os.WriteFile(kp.PublicKeyPath, []byte(kp.PublicKey), 0644); err != nil {
		return nil, fmt.Errorf("failed to write public key: %w", err)
	}

	return kp, nil
}

// loadExisting reads the public key back, rebuilding it from the
// private key when the .pub file went missing.
func loadExisting(kp *KeyPair) (*KeyPair, error) {
	if data, err := os.ReadFile(kp.PublicKeyPath); err == nil {
		kp.PublicKey = string(data)
		return kp, nil
	}

	keyBytes, err := os.ReadFile(kp.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	kp.PublicKey = string(ssh.MarshalAuthorizedKey(signer.PublicKey()))
	if err := os.WriteFile(kp.PublicKeyPath, []byte(kp.PublicKey), 0644); err != nil {
		return nil, fmt.Errorf("failed to write public key: %w", err)
	}

	return kp, nil
}

// Cleanup removes both key files.
func (kp *KeyPair) Cleanup() error {
	if err := os.Remove(kp.PrivateKeyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove private key: %w", err)
	}
	if err := os.Remove(kp.PublicKeyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove public key: %w", err)
	}
	return nil
}
