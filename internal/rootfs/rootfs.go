// Package rootfs provides filesystem access confined to a target root
// directory. All paths given to its operations are absolute paths inside
// that root ("/var/lib"), never host paths. Linux only.
package rootfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// FS is the filesystem surface the converter works against. Implementations
// must not follow symlinks when inspecting objects.
type FS interface {
	// Lstat returns metadata for the object at path without following it.
	Lstat(path string) (fs.FileInfo, error)
	// ReadDir lists the directory at path, sorted by file name.
	ReadDir(path string) ([]fs.DirEntry, error)
	// Readlink returns the target of the symlink at path.
	Readlink(path string) (string, error)
	// Exists reports whether any object is present at path.
	Exists(path string) (bool, error)
	// IsMountPoint reports whether the directory at path has a filesystem
	// mounted on it.
	IsMountPoint(path string) (bool, error)
	// Remove deletes the single object at path.
	Remove(path string) error
	// RemoveAll deletes path and everything below it.
	RemoveAll(path string) error
	// ReadFile returns the contents of the file at path.
	ReadFile(path string) ([]byte, error)
	// WriteFileAtomic writes data to path with the given mode, via a
	// temporary file and rename so readers never observe partial content.
	WriteFileAtomic(path string, data []byte, perm fs.FileMode) error
}

// Root implements FS on a directory of the host filesystem.
type Root struct {
	dir string
}

// New returns a Root over dir, which must be an existing directory.
func New(dir string) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open root %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", dir)
	}
	return &Root{dir: abs}, nil
}

// Dir returns the host path of the root directory.
func (r *Root) Dir() string {
	return r.dir
}

func (r *Root) join(path string) string {
	return filepath.Join(r.dir, path)
}

func (r *Root) Lstat(path string) (fs.FileInfo, error) {
	return os.Lstat(r.join(path))
}

func (r *Root) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(r.join(path))
}

func (r *Root) Readlink(path string) (string, error) {
	return os.Readlink(r.join(path))
}

func (r *Root) Exists(path string) (bool, error) {
	_, err := os.Lstat(r.join(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// IsMountPoint asks the kernel via statx where available, which also
// recognizes bind mounts. Older kernels fall back to comparing the device
// number of path against its parent.
func (r *Root) IsMountPoint(path string) (bool, error) {
	host := r.join(path)
	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, host, unix.AT_SYMLINK_NOFOLLOW|unix.AT_NO_AUTOMOUNT, unix.STATX_TYPE, &stx)
	if err == nil && stx.Attributes_mask&unix.STATX_ATTR_MOUNT_ROOT != 0 {
		return stx.Attributes&unix.STATX_ATTR_MOUNT_ROOT != 0, nil
	}
	if err != nil && !errors.Is(err, unix.ENOSYS) {
		return false, &fs.PathError{Op: "statx", Path: host, Err: err}
	}

	var child, parent unix.Stat_t
	if err := unix.Lstat(host, &child); err != nil {
		return false, &fs.PathError{Op: "lstat", Path: host, Err: err}
	}
	parentDir := filepath.Dir(host)
	if err := unix.Lstat(parentDir, &parent); err != nil {
		return false, &fs.PathError{Op: "lstat", Path: parentDir, Err: err}
	}
	return child.Dev != parent.Dev, nil
}

func (r *Root) Remove(path string) error {
	return os.Remove(r.join(path))
}

func (r *Root) RemoveAll(path string) error {
	return os.RemoveAll(r.join(path))
}

func (r *Root) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(r.join(path))
}

func (r *Root) WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dst := r.join(path)
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".varlift-tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set mode on %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// OwnerIDs extracts the numeric owner from an Lstat result. The third
// return is false when the platform stat data is unavailable.
func OwnerIDs(info fs.FileInfo) (uid, gid uint32, ok bool) {
	st, isUnix := info.Sys().(*syscall.Stat_t)
	if !isUnix {
		return 0, 0, false
	}
	return st.Uid, st.Gid, true
}
