// Package sshfs provides a filesystem backed by SFTP over a single SSH
// connection.
//
// All remote operations borrow an SFTP channel from an internal pool that
// multiplexes a bounded number of channels over the one connection. Two
// pooling policies are available: the soft policy (default) shares channels
// among concurrent operations, balancing load towards the least-used
// channel; the hard policy gives each operation exclusive use of a channel
// and queues when none is free.
package sshfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	fserrors "github.com/input-output-hk/catalyst-forge-libs/sshfs/errors"
	"github.com/input-output-hk/catalyst-forge-libs/sshfs/internal/pool"
)

// Channel is the SFTP session surface filesystem operations borrow from the
// pool. It is satisfied by the sftp client; tests substitute fakes.
type Channel interface {
	Stat(path string) (os.FileInfo, error)
	Lstat(path string) (os.FileInfo, error)
	ReadDir(path string) ([]os.FileInfo, error)
	Mkdir(path string) error
	MkdirAll(path string) error
	Remove(path string) error
	RemoveDirectory(path string) error
	Rename(oldname, newname string) error
	PosixRename(oldname, newname string) error
	Chmod(path string, mode os.FileMode) error
	OpenFile(path string, flags int) (RemoteFile, error)
	Close() error
}

// RemoteFile is an open handle on a remote file.
type RemoteFile interface {
	io.Reader
	io.ReaderAt
	io.Writer
	io.Seeker
	io.Closer
	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
}

// FS is an SFTP-backed filesystem. It is safe for concurrent use; every
// operation borrows a channel from the pool for its own duration.
type FS struct {
	conn     *ssh.Client
	channels pool.Pool[Channel]
	runner   commandRunner
	ownsConn bool

	sysOnce sync.Once
	sys     string
	sysErr  error
}

// Connect dials host over SSH and returns a filesystem speaking SFTP on top
// of the connection. The connection and every channel opened over it are
// owned by the returned FS and torn down by Close.
//
// Example:
//
//	fsys, err := sshfs.Connect(ctx, "build.example.com",
//	    sshfs.WithUser("ci"),
//	    sshfs.WithClientKeys("/home/ci/.ssh/id_ed25519"),
//	    sshfs.WithMaxChannels(8),
//	)
func Connect(ctx context.Context, host string, opts ...Option) (*FS, error) {
	if host == "" {
		return nil, fserrors.New("connect", fserrors.ErrInvalidInput).
			WithMessage("host cannot be empty")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	sshCfg, err := cfg.clientConfig()
	if err != nil {
		return nil, fserrors.New("connect", err)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(cfg.port))
	dialer := net.Dialer{Timeout: cfg.dialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fserrors.New("connect", err).WithMessage("dial " + addr)
	}

	conn, chans, reqs, err := ssh.NewClientConn(raw, addr, sshCfg)
	if err != nil {
		_ = raw.Close()
		return nil, fserrors.New("connect", err).WithMessage("ssh handshake with " + addr)
	}
	client := ssh.NewClient(conn, chans, reqs)

	fsys, err := NewWithClient(client, opts...)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	fsys.ownsConn = true
	return fsys, nil
}

// NewWithClient builds a filesystem over an established SSH client. The
// caller keeps ownership of the client connection; Close tears down the
// channel pool but leaves the connection open.
func NewWithClient(client *ssh.Client, opts ...Option) (*FS, error) {
	if client == nil {
		return nil, fserrors.New("new", fserrors.ErrInvalidInput).
			WithMessage("ssh client cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	opener := &channelOpener{conn: client}
	poolCfg := pool.Config{
		MaxChannels:    cfg.maxChannels,
		AcquireTimeout: cfg.acquireTimeout,
		StrictClose:    cfg.strictClose,
	}

	var channels pool.Pool[Channel]
	switch cfg.poolMode {
	case PoolModeSoft:
		channels = pool.NewSoft[Channel](opener, poolCfg)
	case PoolModeHard:
		channels = pool.NewHard[Channel](opener, poolCfg)
	default:
		return nil, fserrors.New("new", fserrors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("unknown pool mode %q", cfg.poolMode))
	}

	return &FS{
		conn:     client,
		channels: channels,
		runner:   &sshRunner{conn: client},
	}, nil
}

// Close shuts down the channel pool and, when the FS owns it, the SSH
// connection. Under the strict close policy it fails while channels are
// still borrowed and leaves everything intact; otherwise teardown is
// forceful and always completes. Errors from the connection teardown are
// suppressed: the transport may already be half-broken when a channel open
// failed partway.
func (f *FS) Close() error {
	if err := f.channels.Close(); err != nil {
		return fserrors.New("close", err)
	}
	if f.ownsConn {
		_ = f.conn.Close()
	}
	return nil
}

// PoolStats reports a snapshot of the channel pool bookkeeping.
func (f *FS) PoolStats() pool.Stats {
	return f.channels.Stats()
}

// withChannel borrows a channel for the scope of fn, translating remote
// failures and tagging them with the operation and path.
func (f *FS) withChannel(op, path string, fn func(Channel) error) error {
	err := f.channels.With(context.Background(), func(ch Channel) error {
		return fn(ch)
	})
	if err != nil {
		return fserrors.New(op, fserrors.Translate(err)).WithPath(path)
	}
	return nil
}

// channelOpener mints SFTP channels over the SSH connection. A session
// rejection from the server is reported as pool.ErrChannelRefused so the
// pool freezes its capacity instead of surfacing the failure.
type channelOpener struct {
	conn *ssh.Client
}

// OpenChannel implements pool.Opener.
func (o *channelOpener) OpenChannel(_ context.Context) (Channel, error) {
	client, err := sftp.NewClient(o.conn)
	if err != nil {
		var refused *ssh.OpenChannelError
		if errors.As(err, &refused) {
			return nil, fmt.Errorf("%w: %s", pool.ErrChannelRefused, refused.Message)
		}
		return nil, err
	}
	return sftpChannel{client}, nil
}

// sftpChannel adapts *sftp.Client to the Channel interface. Only OpenFile
// needs wrapping, to return the RemoteFile interface instead of the
// concrete file type.
type sftpChannel struct {
	*sftp.Client
}

// OpenFile implements Channel.
func (c sftpChannel) OpenFile(path string, flags int) (RemoteFile, error) {
	file, err := c.Client.OpenFile(path, flags)
	if err != nil {
		return nil, err
	}
	return file, nil
}
