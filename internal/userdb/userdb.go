// Package userdb resolves numeric uids and gids to names using the passwd
// and group databases of a target root. The host's own user database is
// never consulted, since the target may be a foreign OS tree with entirely
// different identities.
package userdb

import (
	"fmt"
	"strconv"
	"strings"
)

// Resolver maps numeric ids to names.
type Resolver interface {
	UserByUID(uid uint32) (string, bool)
	GroupByGID(gid uint32) (string, bool)
}

// FileReader is the filesystem access Load needs.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// Snapshot is an immutable Resolver built from one read of the target's
// databases.
type Snapshot struct {
	users  map[uint32]string
	groups map[uint32]string
}

// Load reads /etc/passwd and /etc/group from fsys. Both files must exist;
// a tree without them has no identities to resolve against. Comment lines,
// short lines and non-numeric ids are skipped. When several entries share
// an id the first one wins, matching lookup order in the C library.
func Load(fsys FileReader) (*Snapshot, error) {
	users, err := loadIDFile(fsys, "/etc/passwd")
	if err != nil {
		return nil, err
	}
	groups, err := loadIDFile(fsys, "/etc/group")
	if err != nil {
		return nil, err
	}
	return &Snapshot{users: users, groups: groups}, nil
}

func loadIDFile(fsys FileReader, path string) (map[uint32]string, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	// passwd and group lines both carry the name in field 0 and the
	// numeric id in field 2.
	out := make(map[uint32]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 3 || fields[0] == "" {
			continue
		}
		id, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			continue
		}
		if _, taken := out[uint32(id)]; !taken {
			out[uint32(id)] = fields[0]
		}
	}
	return out, nil
}

func (s *Snapshot) UserByUID(uid uint32) (string, bool) {
	name, ok := s.users[uid]
	return name, ok
}

func (s *Snapshot) GroupByGID(gid uint32) (string, bool) {
	name, ok := s.groups[gid]
	return name, ok
}

// UserCount returns the number of distinct uids loaded.
func (s *Snapshot) UserCount() int {
	return len(s.users)
}

// GroupCount returns the number of distinct gids loaded.
func (s *Snapshot) GroupCount() int {
	return len(s.groups)
}
