package sshfs

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/input-output-hk/catalyst-forge-libs/fs"

	fserrors "github.com/input-output-hk/catalyst-forge-libs/sshfs/errors"
)

// Stat returns file information for the remote path.
func (f *FS) Stat(name string) (os.FileInfo, error) {
	var info os.FileInfo
	err := f.withChannel("stat", name, func(ch Channel) error {
		var err error
		info, err = ch.Stat(name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Lstat returns file information for the remote path without following
// symlinks.
func (f *FS) Lstat(name string) (os.FileInfo, error) {
	var info os.FileInfo
	err := f.withChannel("lstat", name, func(ch Channel) error {
		var err error
		info, err = ch.Lstat(name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Info returns decoded attributes for the remote path, including ownership
// and timestamps when the server reports them.
func (f *FS) Info(name string) (*Info, error) {
	fi, err := f.Stat(name)
	if err != nil {
		return nil, err
	}
	info := decodeAttributes(fi)
	info.Name = name
	return info, nil
}

// Exists reports whether the remote path exists.
func (f *FS) Exists(path string) (bool, error) {
	_, err := f.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case fserrors.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}

// ReadDir lists the directory at dirname. Self and parent entries are
// skipped; results are sorted by name.
func (f *FS) ReadDir(dirname string) ([]os.FileInfo, error) {
	var entries []os.FileInfo
	err := f.withChannel("readdir", dirname, func(ch Channel) error {
		listed, err := ch.ReadDir(dirname)
		if err != nil {
			return err
		}
		entries = make([]os.FileInfo, 0, len(listed))
		for _, entry := range listed {
			switch entry.Name() {
			case "", ".", "..":
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

// Mkdir creates a single remote directory with the given permissions. The
// parent must already exist.
func (f *FS) Mkdir(path string, perm os.FileMode) error {
	return f.withChannel("mkdir", path, func(ch Channel) error {
		if err := ch.Mkdir(path); err != nil {
			return err
		}
		return ch.Chmod(path, perm)
	})
}

// MkdirAll creates the remote directory along with any missing parents.
func (f *FS) MkdirAll(path string, perm os.FileMode) error {
	return f.withChannel("mkdirall", path, func(ch Channel) error {
		if err := ch.MkdirAll(path); err != nil {
			return err
		}
		return ch.Chmod(path, perm)
	})
}

// Remove removes the remote file or empty directory at name.
func (f *FS) Remove(name string) error {
	return f.withChannel("remove", name, func(ch Channel) error {
		return ch.Remove(name)
	})
}

// RemoveDirectory removes the remote directory at path, which must be
// empty.
func (f *FS) RemoveDirectory(path string) error {
	return f.withChannel("rmdir", path, func(ch Channel) error {
		return ch.RemoveDirectory(path)
	})
}

// Rename moves oldpath to newpath, replacing newpath if it exists. Servers
// with the posix-rename extension do this atomically; elsewhere the file is
// copied server-side and the original removed.
func (f *FS) Rename(oldpath, newpath string) error {
	err := f.withChannel("rename", oldpath, func(ch Channel) error {
		return ch.PosixRename(oldpath, newpath)
	})
	if err == nil || !fserrors.IsUnsupported(err) {
		return err
	}

	if err := f.CopyFile(oldpath, newpath); err != nil {
		return fserrors.New("rename", err).WithPath(oldpath).
			WithMessage("posix-rename unsupported, copy fallback failed")
	}
	return f.Remove(oldpath)
}

// ReadFile reads the entire remote file at path.
func (f *FS) ReadFile(path string) ([]byte, error) {
	var data []byte
	err := f.withChannel("readfile", path, func(ch Channel) error {
		file, err := ch.OpenFile(path, os.O_RDONLY)
		if err != nil {
			return err
		}
		defer func() {
			_ = file.Close()
		}()
		data, err = io.ReadAll(file)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// WriteFile writes data to the remote file at filename, creating or
// truncating it, and applies perm. The write is staged: data goes to a
// temporary sibling and is committed to filename by rename, so a concurrent
// reader sees either the old content or the new, never a truncated target.
func (f *FS) WriteFile(filename string, data []byte, perm os.FileMode) error {
	file, err := newFileWrite(f, filename, os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.abort()
		return fserrors.New("writefile", fserrors.Translate(err)).WithPath(filename)
	}
	return file.Close()
}

// TempDir creates a uniquely named remote directory under dir with the
// given prefix and returns its path. An empty dir defaults to /tmp.
func (f *FS) TempDir(dir, prefix string) (string, error) {
	if dir == "" {
		dir = "/tmp"
	}
	name := path.Join(dir, prefix+randomSuffix())
	err := f.withChannel("tempdir", name, func(ch Channel) error {
		return ch.Mkdir(name)
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

// Walk walks the remote tree rooted at root, calling walkFn for each file
// and directory, in the manner of filepath.Walk.
func (f *FS) Walk(root string, walkFn filepath.WalkFunc) error {
	info, err := f.Stat(root)
	if err != nil {
		err = walkFn(root, nil, err)
	} else {
		err = f.walk(root, info, walkFn)
	}
	if err == filepath.SkipDir {
		return nil
	}
	return err
}

func (f *FS) walk(name string, info os.FileInfo, walkFn filepath.WalkFunc) error {
	if !info.IsDir() {
		return walkFn(name, info, nil)
	}

	entries, err := f.ReadDir(name)
	walkErr := walkFn(name, info, err)
	if err != nil || walkErr != nil {
		return walkErr
	}

	for _, entry := range entries {
		child := path.Join(name, entry.Name())
		if err := f.walk(child, entry, walkFn); err != nil {
			if !entry.IsDir() || err != filepath.SkipDir {
				return err
			}
		}
	}
	return nil
}

// Open opens the remote file at name for reading.
func (f *FS) Open(name string) (fs.File, error) {
	file, err := newFileRead(f, name)
	if err != nil {
		return nil, err
	}
	return file, nil
}

// Create creates or truncates the remote file at name for writing. Writes
// are staged to a temporary sibling and committed to name by rename when
// the file is closed.
func (f *FS) Create(name string) (fs.File, error) {
	file, err := newFileWrite(f, name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return nil, err
	}
	return file, nil
}

// OpenFile opens the remote file with the given flags. Only read-only and
// write-only modes are supported; a writable file is staged and committed
// on Close the same way Create stages it.
func (f *FS) OpenFile(name string, flag int, perm os.FileMode) (fs.File, error) {
	switch {
	case flag&(os.O_WRONLY|os.O_RDWR) == 0:
		return f.Open(name)
	case flag&os.O_RDWR != 0:
		return nil, fserrors.New("openfile", fserrors.ErrUnsupported).WithPath(name).
			WithMessage("read-write mode not supported")
	case flag&os.O_APPEND != 0:
		return nil, fserrors.New("openfile", fserrors.ErrUnsupported).WithPath(name).
			WithMessage("append mode not supported")
	default:
		file, err := newFileWrite(f, name, flag, perm)
		if err != nil {
			return nil, err
		}
		return file, nil
	}
}

// tempSibling returns a hidden unique path next to target used to stage
// writes before the commit rename.
func tempSibling(target string) string {
	return path.Join(path.Dir(target), ".tmp."+randomSuffix())
}

func randomSuffix() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("sshfs: reading random suffix: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// Compile-time interface check.
var _ fs.Filesystem = (*FS)(nil)
