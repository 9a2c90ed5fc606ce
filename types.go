package sshfs

import (
	"os"
	"time"

	"github.com/pkg/sftp"
)

// Kind classifies a remote entry.
type Kind string

// Entry kinds reported by Info.
const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
	KindLink      Kind = "link"
	KindUnknown   Kind = "unknown"
)

// Info carries decoded attributes for a remote entry. Ownership and access
// time are populated only when the server reports them.
type Info struct {
	Name       string
	Size       int64
	Kind       Kind
	Mode       os.FileMode
	UID        uint32
	GID        uint32
	AccessTime time.Time
	ModTime    time.Time
}

func decodeAttributes(fi os.FileInfo) *Info {
	info := &Info{
		Name:    fi.Name(),
		Size:    fi.Size(),
		Kind:    kindOf(fi.Mode()),
		Mode:    fi.Mode(),
		ModTime: fi.ModTime(),
	}
	if stat, ok := fi.Sys().(*sftp.FileStat); ok {
		info.UID = stat.UID
		info.GID = stat.GID
		info.AccessTime = time.Unix(int64(stat.Atime), 0)
	}
	return info
}

func kindOf(mode os.FileMode) Kind {
	switch {
	case mode&os.ModeSymlink != 0:
		return KindLink
	case mode.IsDir():
		return KindDirectory
	case mode.IsRegular():
		return KindFile
	default:
		return KindUnknown
	}
}
