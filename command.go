package sshfs

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	fserrors "github.com/input-output-hk/catalyst-forge-libs/sshfs/errors"
)

// commandRunner executes a command on the remote host and returns its
// trimmed stdout. Tests substitute fakes.
type commandRunner interface {
	run(command string) (string, error)
}

// sshRunner runs commands over a fresh exec session on the SSH connection.
type sshRunner struct {
	conn *ssh.Client
}

func (r *sshRunner) run(command string) (string, error) {
	session, err := r.conn.NewSession()
	if err != nil {
		return "", fmt.Errorf("opening exec session: %w", err)
	}
	defer func() {
		_ = session.Close()
	}()

	out, err := session.Output(command)
	if err != nil {
		return "", fmt.Errorf("running %q: %w", command, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// system returns the remote kernel name as reported by uname, cached for
// the lifetime of the connection.
func (f *FS) system() (string, error) {
	f.sysOnce.Do(func() {
		f.sys, f.sysErr = f.runner.run("uname")
	})
	return f.sys, f.sysErr
}

// CopyFile copies src to dst server-side by running cp on the remote host.
// The data never transits the client.
func (f *FS) CopyFile(src, dst string) error {
	cmd := "cp " + shellQuote(src) + " " + shellQuote(dst)
	if _, err := f.runner.run(cmd); err != nil {
		return fserrors.New("copyfile", err).WithPath(src)
	}
	return nil
}

// Checksum returns the hex MD5 digest of the remote file, computed on the
// server with md5sum on Linux or md5 on Darwin.
func (f *FS) Checksum(path string) (string, error) {
	system, err := f.system()
	if err != nil {
		return "", fserrors.New("checksum", err).WithPath(path)
	}

	var command string
	var field int
	switch system {
	case "Linux":
		command, field = "md5sum", 0
	case "Darwin":
		command, field = "md5", -1
	default:
		return "", fserrors.New("checksum", fserrors.ErrUnsupported).WithPath(path).
			WithMessage("no md5 tool known for " + system)
	}

	out, err := f.runner.run(command + " " + shellQuote(path))
	if err != nil {
		return "", fserrors.New("checksum", err).WithPath(path)
	}

	fields := strings.Fields(out)
	if field < 0 {
		field += len(fields)
	}
	if field < 0 || field >= len(fields) {
		return "", fserrors.New("checksum", fserrors.ErrInvalidInput).WithPath(path).
			WithMessage("unexpected " + command + " output")
	}

	digest := strings.ToLower(fields[field])
	if !isMD5Digest(digest) {
		return "", fserrors.New("checksum", fserrors.ErrInvalidInput).WithPath(path).
			WithMessage(fmt.Sprintf("malformed digest %q", digest))
	}
	return digest, nil
}

func isMD5Digest(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}

// shellQuote wraps s in single quotes so the remote shell treats it as a
// literal argument.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
