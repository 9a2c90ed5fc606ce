package sshfs

import (
	"context"
	"os"
	"sync"

	fserrors "github.com/input-output-hk/catalyst-forge-libs/sshfs/errors"
	"github.com/input-output-hk/catalyst-forge-libs/sshfs/internal/pool"
)

// File is an open remote file. A File pins one pooled channel for its whole
// lifetime and releases it on Close.
//
// Files opened for writing are staged: bytes go to a hidden temporary
// sibling of the target, and Close commits the staged file to its final
// name by rename. Readers never observe a partially written target.
type File struct {
	fs      *FS
	name    string
	staged  string // temporary sibling for writes, empty in read mode
	writing bool

	ch      Channel
	remote  RemoteFile
	release pool.ReleaseFunc

	mu     sync.Mutex
	closed bool
}

func newFileRead(f *FS, name string) (*File, error) {
	ch, release, err := f.channels.Acquire(context.Background())
	if err != nil {
		return nil, fserrors.New("open", err).WithPath(name)
	}

	remote, err := ch.OpenFile(name, os.O_RDONLY)
	if err != nil {
		release()
		return nil, fserrors.New("open", fserrors.Translate(err)).WithPath(name)
	}

	return &File{fs: f, name: name, ch: ch, remote: remote, release: release}, nil
}

func newFileWrite(f *FS, name string, flag int, perm os.FileMode) (*File, error) {
	ch, release, err := f.channels.Acquire(context.Background())
	if err != nil {
		return nil, fserrors.New("create", err).WithPath(name)
	}

	staged := tempSibling(name)
	remote, err := ch.OpenFile(staged, flag|os.O_CREATE)
	if err != nil {
		release()
		return nil, fserrors.New("create", fserrors.Translate(err)).WithPath(name)
	}
	if err := ch.Chmod(staged, perm); err != nil {
		_ = remote.Close()
		_ = ch.Remove(staged)
		release()
		return nil, fserrors.New("create", fserrors.Translate(err)).WithPath(name)
	}

	return &File{
		fs:      f,
		name:    name,
		staged:  staged,
		writing: true,
		ch:      ch,
		remote:  remote,
		release: release,
	}, nil
}

// Name returns the target path the file was opened with.
func (f *File) Name() string { return f.name }

// Read reads from the remote file.
func (f *File) Read(p []byte) (int, error) {
	if err := f.readable("read"); err != nil {
		return 0, err
	}
	return f.remote.Read(p)
}

// ReadAt reads from the remote file at the given offset.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if err := f.readable("readat"); err != nil {
		return 0, err
	}
	return f.remote.ReadAt(p, off)
}

// Seek sets the offset for the next Read or Write.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if err := f.open("seek"); err != nil {
		return 0, err
	}
	return f.remote.Seek(offset, whence)
}

// Write writes to the staged remote file.
func (f *File) Write(p []byte) (int, error) {
	if err := f.writable("write"); err != nil {
		return 0, err
	}
	return f.remote.Write(p)
}

// Truncate changes the size of the staged remote file.
func (f *File) Truncate(size int64) error {
	if err := f.writable("truncate"); err != nil {
		return err
	}
	return f.remote.Truncate(size)
}

// Stat returns file information for the open file. For a file opened for
// writing this describes the staged copy.
func (f *File) Stat() (os.FileInfo, error) {
	if err := f.open("stat"); err != nil {
		return nil, err
	}
	info, err := f.remote.Stat()
	if err != nil {
		return nil, fserrors.New("stat", fserrors.Translate(err)).WithPath(f.name)
	}
	return info, nil
}

// Sync flushes buffered writes to the server. Servers without the fsync
// extension are tolerated.
func (f *File) Sync() error {
	if err := f.writable("sync"); err != nil {
		return err
	}
	if err := f.remote.Sync(); err != nil {
		if terr := fserrors.Translate(err); fserrors.IsUnsupported(terr) {
			return nil
		}
		return fserrors.New("sync", fserrors.Translate(err)).WithPath(f.name)
	}
	return nil
}

// Close releases the pinned channel. For a file opened for writing it first
// commits the staged bytes to the target name; the commit is atomic on
// servers with the posix-rename extension.
func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return &os.PathError{Op: "close", Path: f.name, Err: os.ErrClosed}
	}
	f.closed = true
	f.mu.Unlock()

	closeErr := f.remote.Close()
	f.release()

	if !f.writing {
		if closeErr != nil {
			return fserrors.New("close", fserrors.Translate(closeErr)).WithPath(f.name)
		}
		return nil
	}

	if closeErr != nil {
		f.discardStaged()
		return fserrors.New("close", fserrors.Translate(closeErr)).WithPath(f.name)
	}
	if err := f.fs.Rename(f.staged, f.name); err != nil {
		f.discardStaged()
		return fserrors.New("close", err).WithPath(f.name).
			WithMessage("committing staged write")
	}
	return nil
}

// discardStaged removes the temporary sibling after a failed commit. The
// commit error is what the caller needs, so cleanup failures are dropped.
func (f *File) discardStaged() {
	_ = f.fs.Remove(f.staged)
}

// abort closes the file without committing. A staged write is discarded;
// the target is left exactly as it was. The error that triggered the abort
// is what the caller needs, so teardown failures are dropped.
func (f *File) abort() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()

	_ = f.remote.Close()
	f.release()
	if f.writing {
		f.discardStaged()
	}
}

func (f *File) open(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return &os.PathError{Op: op, Path: f.name, Err: os.ErrClosed}
	}
	return nil
}

func (f *File) readable(op string) error {
	if err := f.open(op); err != nil {
		return err
	}
	if f.writing {
		return &os.PathError{Op: op, Path: f.name, Err: os.ErrInvalid}
	}
	return nil
}

func (f *File) writable(op string) error {
	if err := f.open(op); err != nil {
		return err
	}
	if !f.writing {
		return &os.PathError{Op: op, Path: f.name, Err: os.ErrInvalid}
	}
	return nil
}
