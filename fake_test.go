package sshfs

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"

	"github.com/input-output-hk/catalyst-forge-libs/sshfs/internal/pool"
)

// memStore is a process-local stand-in for the remote host: a path-keyed
// tree shared by fake channels and the fake command runner.
type memStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
}

type memEntry struct {
	data    []byte
	mode    os.FileMode
	isDir   bool
	uid     uint32
	gid     uint32
	modTime time.Time
}

func newMemStore() *memStore {
	return &memStore{entries: map[string]*memEntry{
		"/": {isDir: true, mode: 0o755},
	}}
}

func (m *memStore) addDir(p string, mode os.FileMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[path.Clean(p)] = &memEntry{isDir: true, mode: mode, modTime: time.Now()}
}

func (m *memStore) addFile(p string, data []byte, mode os.FileMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[path.Clean(p)] = &memEntry{data: append([]byte(nil), data...), mode: mode, modTime: time.Now()}
}

func (m *memStore) get(p string) (*memEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[path.Clean(p)]
	return e, ok
}

func (m *memStore) has(p string) bool {
	_, ok := m.get(p)
	return ok
}

func (m *memStore) delete(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, path.Clean(p))
}

func (m *memStore) move(oldp, newp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	oldp, newp = path.Clean(oldp), path.Clean(newp)
	m.entries[newp] = m.entries[oldp]
	delete(m.entries, oldp)
}

func (m *memStore) children(dir string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir = path.Clean(dir)
	var names []string
	for p := range m.entries {
		if p != dir && path.Dir(p) == dir {
			names = append(names, path.Base(p))
		}
	}
	sort.Strings(names)
	return names
}

func (m *memStore) info(p string) (*memInfo, bool) {
	e, ok := m.get(p)
	if !ok {
		return nil, false
	}
	return &memInfo{name: path.Base(path.Clean(p)), entry: e}, true
}

type memInfo struct {
	name  string
	entry *memEntry
}

func (i *memInfo) Name() string { return i.name }
func (i *memInfo) Size() int64  { return int64(len(i.entry.data)) }
func (i *memInfo) Mode() os.FileMode {
	if i.entry.isDir {
		return i.entry.mode | os.ModeDir
	}
	return i.entry.mode
}
func (i *memInfo) ModTime() time.Time { return i.entry.modTime }
func (i *memInfo) IsDir() bool        { return i.entry.isDir }
func (i *memInfo) Sys() any {
	return &sftp.FileStat{
		UID:   i.entry.uid,
		GID:   i.entry.gid,
		Atime: uint32(i.entry.modTime.Unix()),
		Mtime: uint32(i.entry.modTime.Unix()),
	}
}

// fakeChannel implements Channel against a memStore. Servers also report
// self and parent entries from readdir, so the fake does too.
type fakeChannel struct {
	store          *memStore
	posixRenameErr error
	closed         bool

	// writeOpens records every path opened for writing, in order.
	writeOpens []string
}

func (c *fakeChannel) Stat(p string) (os.FileInfo, error) {
	info, ok := c.store.info(p)
	if !ok {
		return nil, os.ErrNotExist
	}
	return info, nil
}

func (c *fakeChannel) Lstat(p string) (os.FileInfo, error) { return c.Stat(p) }

func (c *fakeChannel) ReadDir(p string) ([]os.FileInfo, error) {
	e, ok := c.store.get(p)
	if !ok {
		return nil, os.ErrNotExist
	}
	if !e.isDir {
		return nil, fmt.Errorf("not a directory: %s", p)
	}
	dot := &memEntry{isDir: true, mode: 0o755}
	infos := []os.FileInfo{
		&memInfo{name: ".", entry: dot},
		&memInfo{name: "..", entry: dot},
	}
	for _, name := range c.store.children(p) {
		info, _ := c.store.info(path.Join(p, name))
		infos = append(infos, info)
	}
	return infos, nil
}

func (c *fakeChannel) Mkdir(p string) error {
	if c.store.has(p) {
		return os.ErrExist
	}
	if !c.store.has(path.Dir(path.Clean(p))) {
		return os.ErrNotExist
	}
	c.store.addDir(p, 0o755)
	return nil
}

func (c *fakeChannel) MkdirAll(p string) error {
	p = path.Clean(p)
	if e, ok := c.store.get(p); ok {
		if !e.isDir {
			return os.ErrExist
		}
		return nil
	}
	if p != "/" {
		if err := c.MkdirAll(path.Dir(p)); err != nil {
			return err
		}
		c.store.addDir(p, 0o755)
	}
	return nil
}

func (c *fakeChannel) Remove(p string) error {
	e, ok := c.store.get(p)
	if !ok {
		return os.ErrNotExist
	}
	if e.isDir && len(c.store.children(p)) > 0 {
		return fmt.Errorf("directory not empty: %s", p)
	}
	c.store.delete(p)
	return nil
}

func (c *fakeChannel) RemoveDirectory(p string) error {
	e, ok := c.store.get(p)
	if !ok {
		return os.ErrNotExist
	}
	if !e.isDir {
		return fmt.Errorf("not a directory: %s", p)
	}
	if len(c.store.children(p)) > 0 {
		return fmt.Errorf("directory not empty: %s", p)
	}
	c.store.delete(p)
	return nil
}

func (c *fakeChannel) Rename(oldp, newp string) error {
	if !c.store.has(oldp) {
		return os.ErrNotExist
	}
	if c.store.has(newp) {
		return os.ErrExist
	}
	c.store.move(oldp, newp)
	return nil
}

func (c *fakeChannel) PosixRename(oldp, newp string) error {
	if c.posixRenameErr != nil {
		return c.posixRenameErr
	}
	if !c.store.has(oldp) {
		return os.ErrNotExist
	}
	c.store.move(oldp, newp)
	return nil
}

func (c *fakeChannel) Chmod(p string, mode os.FileMode) error {
	e, ok := c.store.get(p)
	if !ok {
		return os.ErrNotExist
	}
	e.mode = mode.Perm()
	return nil
}

func (c *fakeChannel) OpenFile(p string, flags int) (RemoteFile, error) {
	e, ok := c.store.get(p)
	if flags&(os.O_WRONLY|os.O_RDWR) == 0 {
		if !ok {
			return nil, os.ErrNotExist
		}
		if e.isDir {
			return nil, fmt.Errorf("is a directory: %s", p)
		}
		return &memFile{store: c.store, path: p, rd: bytes.NewReader(e.data)}, nil
	}

	c.writeOpens = append(c.writeOpens, p)
	if !ok {
		if flags&os.O_CREATE == 0 {
			return nil, os.ErrNotExist
		}
		if !c.store.has(path.Dir(path.Clean(p))) {
			return nil, os.ErrNotExist
		}
		c.store.addFile(p, nil, 0o644)
	} else if flags&os.O_TRUNC != 0 {
		c.store.addFile(p, nil, e.mode)
	}
	return &memFile{store: c.store, path: p, writable: true, wr: &bytes.Buffer{}}, nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

// memFile implements RemoteFile over a memStore entry. Written bytes are
// committed back to the store on Close.
type memFile struct {
	store    *memStore
	path     string
	writable bool
	rd       *bytes.Reader
	wr       *bytes.Buffer
	closed   bool
}

func (f *memFile) Read(p []byte) (int, error) {
	if f.writable {
		return 0, os.ErrInvalid
	}
	return f.rd.Read(p)
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if f.writable {
		return 0, os.ErrInvalid
	}
	return f.rd.ReadAt(p, off)
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	if f.writable {
		return 0, os.ErrInvalid
	}
	return f.rd.Seek(offset, whence)
}

func (f *memFile) Write(p []byte) (int, error) {
	if !f.writable {
		return 0, os.ErrInvalid
	}
	return f.wr.Write(p)
}

func (f *memFile) Truncate(size int64) error {
	if !f.writable {
		return os.ErrInvalid
	}
	f.wr.Truncate(int(size))
	return nil
}

func (f *memFile) Stat() (os.FileInfo, error) {
	info, ok := f.store.info(f.path)
	if !ok {
		return nil, os.ErrNotExist
	}
	if f.writable {
		return &memInfo{name: info.name, entry: &memEntry{
			data: f.wr.Bytes(), mode: info.entry.mode, modTime: info.entry.modTime,
		}}, nil
	}
	return info, nil
}

func (f *memFile) Sync() error { return nil }

func (f *memFile) Close() error {
	if f.closed {
		return os.ErrClosed
	}
	f.closed = true
	if f.writable {
		e, ok := f.store.get(f.path)
		mode := os.FileMode(0o644)
		if ok {
			mode = e.mode
		}
		f.store.addFile(f.path, f.wr.Bytes(), mode)
	}
	return nil
}

// fakeRunner interprets the small command vocabulary the filesystem emits.
type fakeRunner struct {
	store  *memStore
	system string
	fail   error

	mu   sync.Mutex
	cmds []string
}

func (r *fakeRunner) run(cmd string) (string, error) {
	r.mu.Lock()
	r.cmds = append(r.cmds, cmd)
	r.mu.Unlock()
	if r.fail != nil {
		return "", r.fail
	}

	switch {
	case cmd == "uname":
		if r.system == "" {
			return "Linux", nil
		}
		return r.system, nil

	case strings.HasPrefix(cmd, "cp "):
		args := unquoteArgs(strings.TrimPrefix(cmd, "cp "))
		if len(args) != 2 {
			return "", fmt.Errorf("cp: bad arguments %q", cmd)
		}
		src, ok := r.store.get(args[0])
		if !ok {
			return "", fmt.Errorf("cp: %s: no such file", args[0])
		}
		r.store.addFile(args[1], src.data, src.mode)
		return "", nil

	case strings.HasPrefix(cmd, "md5sum "):
		p := unquoteArgs(strings.TrimPrefix(cmd, "md5sum "))[0]
		e, ok := r.store.get(p)
		if !ok {
			return "", fmt.Errorf("md5sum: %s: no such file", p)
		}
		return fmt.Sprintf("%x  %s", md5.Sum(e.data), p), nil

	case strings.HasPrefix(cmd, "md5 "):
		p := unquoteArgs(strings.TrimPrefix(cmd, "md5 "))[0]
		e, ok := r.store.get(p)
		if !ok {
			return "", fmt.Errorf("md5: %s: no such file", p)
		}
		return fmt.Sprintf("MD5 (%s) = %x", p, md5.Sum(e.data)), nil
	}
	return "", fmt.Errorf("unknown command %q", cmd)
}

func (r *fakeRunner) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.cmds...)
}

func unquoteArgs(s string) []string {
	parts := strings.Split(s, "' '")
	for i := range parts {
		parts[i] = strings.Trim(parts[i], "'")
	}
	return parts
}

// newTestFS wires a filesystem over the in-memory store with a default
// soft pool. Individual tests override the channel or runner as needed.
func newTestFS(store *memStore, opts ...func(*fakeChannel)) (*FS, *fakeRunner) {
	opener := pool.OpenerFunc[Channel](func(context.Context) (Channel, error) {
		ch := &fakeChannel{store: store}
		for _, opt := range opts {
			opt(ch)
		}
		return ch, nil
	})
	runner := &fakeRunner{store: store}
	return &FS{
		channels: pool.NewSoft[Channel](opener, pool.Config{}),
		runner:   runner,
	}, runner
}
