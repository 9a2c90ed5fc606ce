package sshfs

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	fserrors "github.com/input-output-hk/catalyst-forge-libs/sshfs/errors"
)

// PoolMode selects the channel allocation policy.
type PoolMode string

const (
	// PoolModeSoft shares channels among concurrent operations, handing
	// out the least-used channel. This is the default.
	PoolModeSoft PoolMode = "soft"

	// PoolModeHard gives each operation exclusive use of a channel,
	// queueing when every channel is checked out.
	PoolModeHard PoolMode = "hard"
)

const (
	// DefaultPort is the SSH port used when none is configured.
	DefaultPort = 22

	// DefaultAcquireTimeout bounds how long a hard-pool operation waits
	// for a free channel before failing.
	DefaultAcquireTimeout = 3 * time.Hour

	// DefaultDialTimeout bounds the TCP dial when connecting.
	DefaultDialTimeout = 30 * time.Second
)

// Option configures the filesystem.
type Option func(*config)

type config struct {
	port            int
	username        string
	password        string
	keyFiles        []string
	signers         []ssh.Signer
	knownHostsFile  string
	hostKeyCallback ssh.HostKeyCallback
	dialTimeout     time.Duration

	poolMode       PoolMode
	maxChannels    int
	acquireTimeout time.Duration
	strictClose    bool
}

func defaultConfig() *config {
	return &config{
		port:           DefaultPort,
		dialTimeout:    DefaultDialTimeout,
		poolMode:       PoolModeSoft,
		acquireTimeout: DefaultAcquireTimeout,
	}
}

// WithPort sets the SSH port. Default is 22.
func WithPort(port int) Option {
	return func(c *config) {
		if port > 0 {
			c.port = port
		}
	}
}

// WithUser sets the login user. Defaults to the current OS user.
func WithUser(username string) Option {
	return func(c *config) {
		c.username = username
	}
}

// WithPassword enables password authentication.
func WithPassword(password string) Option {
	return func(c *config) {
		c.password = password
	}
}

// WithClientKeys enables public-key authentication with the private keys at
// the given paths.
func WithClientKeys(paths ...string) Option {
	return func(c *config) {
		c.keyFiles = append(c.keyFiles, paths...)
	}
}

// WithSigners enables public-key authentication with pre-parsed signers.
// Useful when keys come from an agent or a secrets store rather than disk.
func WithSigners(signers ...ssh.Signer) Option {
	return func(c *config) {
		c.signers = append(c.signers, signers...)
	}
}

// WithKnownHosts sets the known-hosts file used to verify the server's host
// key. Default is ~/.ssh/known_hosts.
func WithKnownHosts(path string) Option {
	return func(c *config) {
		c.knownHostsFile = path
	}
}

// WithHostKeyCallback overrides host key verification entirely. This takes
// precedence over WithKnownHosts.
func WithHostKeyCallback(callback ssh.HostKeyCallback) Option {
	return func(c *config) {
		c.hostKeyCallback = callback
	}
}

// WithDialTimeout bounds the TCP dial when connecting. Default is 30s.
func WithDialTimeout(timeout time.Duration) Option {
	return func(c *config) {
		if timeout > 0 {
			c.dialTimeout = timeout
		}
	}
}

// WithPoolMode selects the channel allocation policy. Default is
// PoolModeSoft.
func WithPoolMode(mode PoolMode) Option {
	return func(c *config) {
		c.poolMode = mode
	}
}

// WithMaxChannels bounds the number of SFTP channels opened over the
// connection. Default is unbounded: the pool grows until the server starts
// refusing channels, at which point the observed limit sticks for the
// lifetime of the filesystem.
func WithMaxChannels(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxChannels = n
		}
	}
}

// WithAcquireTimeout bounds how long an operation under the hard policy
// waits for a free channel. Zero fails immediately when nothing is free; a
// negative value waits without bound. The soft policy never waits. Default
// is DefaultAcquireTimeout.
func WithAcquireTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.acquireTimeout = timeout
	}
}

// WithStrictClose makes Close fail while channels are still borrowed
// instead of force-closing them, surfacing channel leaks to the caller.
func WithStrictClose(strict bool) Option {
	return func(c *config) {
		c.strictClose = strict
	}
}

// clientConfig assembles the ssh client configuration from the options.
func (c *config) clientConfig() (*ssh.ClientConfig, error) {
	username := c.username
	if username == "" {
		current, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("%w: no user configured and none detected", fserrors.ErrInvalidInput)
		}
		username = current.Username
	}

	var auth []ssh.AuthMethod
	if c.password != "" {
		auth = append(auth, ssh.Password(c.password))
	}
	signers := c.signers
	for _, path := range c.keyFiles {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read client key %q: %w", path, err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse client key %q: %w", path, err)
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		auth = append(auth, ssh.PublicKeys(signers...))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("%w: no authentication method configured", fserrors.ErrInvalidInput)
	}

	hostKeys := c.hostKeyCallback
	if hostKeys == nil {
		path := c.knownHostsFile
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("locate known_hosts: %w", err)
			}
			path = filepath.Join(home, ".ssh", "known_hosts")
		}
		var err error
		hostKeys, err = knownhosts.New(path)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts %q: %w", path, err)
		}
	}

	return &ssh.ClientConfig{
		User:            username,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         c.dialTimeout,
	}, nil
}
