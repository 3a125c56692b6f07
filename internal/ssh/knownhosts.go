package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrHostKeyMismatch is returned when a server presents a key other than the
// one recorded for it.
var ErrHostKeyMismatch = errors.New("ssh: host key mismatch")

// NewHostKeyCallback checks server keys against the known_hosts file at
// path, creating it if needed. Unknown hosts are appended and accepted. An
// empty path accepts every key.
func NewHostKeyCallback(path string, logger zerolog.Logger) (ssh.HostKeyCallback, error) {
	if path == "" {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // host key checking explicitly disabled
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("known_hosts: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("known_hosts: %w", err)
	}
	_ = f.Close()

	kh := &knownHosts{path: path, logger: logger}
	if err := kh.reload(); err != nil {
		return nil, err
	}
	return kh.check, nil
}

type knownHosts struct {
	path   string
	logger zerolog.Logger

	mu     sync.Mutex
	lookup ssh.HostKeyCallback
}

func (kh *knownHosts) reload() error {
	lookup, err := knownhosts.New(kh.path)
	if err != nil {
		return fmt.Errorf("known_hosts: %w", err)
	}
	kh.lookup = lookup
	return nil
}

func (kh *knownHosts) check(hostname string, remote net.Addr, key ssh.PublicKey) error {
	kh.mu.Lock()
	defer kh.mu.Unlock()

	err := kh.lookup(hostname, remote, key)
	var keyErr *knownhosts.KeyError
	if err == nil || !errors.As(err, &keyErr) {
		return err
	}
	if len(keyErr.Want) > 0 {
		return fmt.Errorf("%w for %s (recorded at %s:%d)", ErrHostKeyMismatch, hostname, keyErr.Want[0].Filename, keyErr.Want[0].Line)
	}

	f, err := os.OpenFile(kh.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("known_hosts: %w", err)
	}
	_, err = fmt.Fprintln(f, knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("known_hosts: %w", err)
	}

	kh.logger.Warn().
		Str("host", hostname).
		Str("key_type", key.Type()).
		Str("fingerprint", ssh.FingerprintSHA256(key)).
		Str("known_hosts", kh.path).
		Msg("trusting new ssh host key")
	return kh.reload()
}
