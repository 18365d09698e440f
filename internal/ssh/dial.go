package ssh

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
)

// DialConfig describes an SSH connection to a backup host
type DialConfig struct {
	Host            string
	Port            int
	Username        string
	Password        string
	KeyPath         string
	KnownHostsPath  string
	TrustOnFirstUse bool
	Timeout         time.Duration
}

// Dial connects and authenticates, preferring a private key over a password
func Dial(cfg DialConfig) (*ssh.Client, error) {
	auth, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := NewHostKeyCallback(cfg.KnownHostsPath, cfg.TrustOnFirstUse)
	if err != nil {
		return nil, fmt.Errorf("failed to configure host key verification: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	port := cfg.Port
	if port == 0 {
		port = 22
	}

	clientConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	client, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return client, nil
}

func authMethods(cfg DialConfig) ([]ssh.AuthMethod, error) {
	if cfg.KeyPath != "" {
		signer, err := ReadSigner(cfg.KeyPath)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if cfg.Password != "" {
		return []ssh.AuthMethod{ssh.Password(cfg.Password)}, nil
	}
	return nil, fmt.Errorf("no authentication method provided for %s", cfg.Host)
}

// ReadSigner loads an unencrypted PEM/OpenSSH private key
func ReadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", path, err)
	}
	return signer, nil
}
