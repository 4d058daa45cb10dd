package convert

import "errors"

var (
	// ErrMissingConfDir means the target root has no tmpfiles.d directory.
	// That directory ships with systemd and is never created here.
	ErrMissingConfDir = errors.New("tmpfiles.d directory does not exist")
	// ErrVarRunNotSymlink means the subtree carries a real directory named
	// run, where only a symlink into /run is acceptable.
	ErrVarRunNotSymlink = errors.New("found run as a non-symlink")
	// ErrUnknownUser means an owning uid has no entry in the user database.
	ErrUnknownUser = errors.New("user not found")
	// ErrUnknownGroup means an owning gid has no entry in the group database.
	ErrUnknownGroup = errors.New("group not found")
	// ErrNameNotUTF8 means a resolved user or group name cannot be written
	// into a tmpfiles.d line.
	ErrNameNotUTF8 = errors.New("name is not valid UTF-8")
)
