package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/TheGojiOG/worldkeeper/internal/logging"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// NewHostKeyCallback verifies remote hosts against a known_hosts file. With
// trustOnFirstUse an unknown host is recorded and accepted; a changed key is
// always rejected.
func NewHostKeyCallback(knownHostsPath string, trustOnFirstUse bool) (ssh.HostKeyCallback, error) {
	if strings.TrimSpace(knownHostsPath) == "" {
		logging.Component("ssh").Warn("ssh_host_key_verification_disabled")
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if err := ensureKnownHostsFile(knownHostsPath); err != nil {
		return nil, err
	}

	verify, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read known_hosts: %w", err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := verify(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}

		fingerprint := ssh.FingerprintSHA256(key)
		if len(keyErr.Want) > 0 {
			logging.Component("ssh").Warn("ssh_host_key_changed", "host", hostname, "fingerprint", fingerprint)
			return fmt.Errorf("SSH host key changed for %s", hostname)
		}

		if !trustOnFirstUse {
			return fmt.Errorf("unknown SSH host key for %s", hostname)
		}

		if err := appendKnownHost(knownHostsPath, knownHostsEntries(hostname, remote), key); err != nil {
			return err
		}
		logging.Component("ssh").Info("ssh_host_key_accepted", "host", hostname, "fingerprint", fingerprint)
		return nil
	}, nil
}

func ensureKnownHostsFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create known_hosts directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create known_hosts file: %w", err)
	}
	return file.Close()
}

func appendKnownHost(path string, hosts []string, key ssh.PublicKey) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(knownhosts.Line(hosts, key) + "\n"); err != nil {
		return fmt.Errorf("failed to write known_hosts entry: %w", err)
	}
	return nil
}

// knownHostsEntries lists the dialed name and, when different, the remote IP
func knownHostsEntries(hostname string, remote net.Addr) []string {
	var remoteHost, remotePort string
	if remote != nil {
		host, port, err := net.SplitHostPort(remote.String())
		if err != nil {
			host = remote.String()
		}
		remoteHost, remotePort = host, port
	}

	var entries []string
	if hostname != "" {
		entries = append(entries, knownhosts.Normalize(hostname))
	}
	if remoteHost != "" {
		addr := remoteHost
		if remotePort != "" {
			addr = net.JoinHostPort(remoteHost, remotePort)
		}
		if normalized := knownhosts.Normalize(addr); len(entries) == 0 || normalized != entries[0] {
			entries = append(entries, normalized)
		}
	}
	return entries
}
