package tmpfiles

import (
	"fmt"
	"io/fs"
	"strconv"
	"strings"
)

// GeneratedPrefix is the reserved file-name stem marking conf files written
// by this tool, distinguishing them from hand-authored config.
const GeneratedPrefix = "varlift-autogenerated-var"

// Kind classifies a filesystem object for conversion.
type Kind int

const (
	// Unsupported covers regular files, devices, sockets, fifos and anything
	// else without a tmpfiles.d representation.
	Unsupported Kind = iota
	// Directory converts to a `d` entry.
	Directory
	// Symlink converts to an `L` entry.
	Symlink
)

// Meta is the conversion-relevant metadata of one filesystem object,
// captured from lstat. Symlinks are never followed.
type Meta struct {
	Kind   Kind
	Mode   fs.FileMode // permission bits, Directory only
	Target string      // link target, Symlink only
}

// FormatEntry renders the tmpfiles.d line declaring absPath with the given
// metadata and ownership. Unsupported objects cannot be formatted; callers
// filter them out first.
func FormatEntry(absPath string, meta Meta, user, group string) (string, error) {
	switch meta.Kind {
	case Directory:
		p, err := CanonicalEscapePath(absPath)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("d %s %04o %s %s - -", p, unixMode(meta.Mode), user, group), nil
	case Symlink:
		p, err := CanonicalEscapePath(absPath)
		if err != nil {
			return "", err
		}
		t, err := CanonicalEscapePath(meta.Target)
		if err != nil {
			return "", fmt.Errorf("target of %s: %w", absPath, err)
		}
		return fmt.Sprintf("L %s - - - - %s", p, t), nil
	case Unsupported:
		return "", fmt.Errorf("cannot format unsupported object %s", absPath)
	default:
		return "", fmt.Errorf("unhandled kind %d for %s", meta.Kind, absPath)
	}
}

// unixMode converts a FileMode to the POSIX 12-bit permission value,
// preserving setuid, setgid and sticky.
func unixMode(m fs.FileMode) uint32 {
	bits := uint32(m.Perm())
	if m&fs.ModeSetuid != 0 {
		bits |= 0o4000
	}
	if m&fs.ModeSetgid != 0 {
		bits |= 0o2000
	}
	if m&fs.ModeSticky != 0 {
		bits |= 0o1000
	}
	return bits
}

// PathFromEntry extracts the declared path from one tmpfiles.d line. The
// type field is skipped as a whole whitespace-delimited token: type fields
// may carry attached modifier characters (`a+`, `d!`), so it is never
// assumed to be a single character.
func PathFromEntry(line string) (string, error) {
	cur := &cursor{s: line}
	cur.skipWhitespace()
	if !cur.skipToken() {
		return "", fmt.Errorf("%w: %q", ErrMalformedEntry, line)
	}
	cur.skipWhitespace()
	p, err := unescapePath(cur)
	if err != nil {
		return "", fmt.Errorf("entry %q: %w", line, err)
	}
	return p, nil
}

// IsConfFile reports whether name looks like a tmpfiles.d config file. The
// name must have a non-empty stem before the .conf suffix.
func IsConfFile(name string) bool {
	return len(name) > len(".conf") && strings.HasSuffix(name, ".conf")
}

// GeneratedConfName returns the conf file name for a generation number.
func GeneratedConfName(generation int) string {
	return fmt.Sprintf("%s-%d.conf", GeneratedPrefix, generation)
}

// GenerationFromConfName parses the generation number out of a file name
// produced by GeneratedConfName. The second return is false for
// hand-authored names and anything not strictly matching the pattern.
func GenerationFromConfName(name string) (int, bool) {
	stem, ok := strings.CutSuffix(name, ".conf")
	if !ok {
		return 0, false
	}
	digits, ok := strings.CutPrefix(stem, GeneratedPrefix+"-")
	if !ok || digits == "" {
		return 0, false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}
