// Package convert turns on-disk state under a /var-like subtree into
// systemd tmpfiles.d declarations, then removes the translated objects so
// the next boot recreates them from the declarations instead of shipped
// bytes. Directories and symlinks convert; everything else is skipped and
// reported.
package convert

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/schaermu/varlift/internal/config"
	"github.com/schaermu/varlift/internal/rootfs"
	"github.com/schaermu/varlift/internal/tmpfiles"
	"github.com/schaermu/varlift/internal/userdb"
)

// Engine orchestrates the conversion process
type Engine struct {
	cfg    *config.Config
	fsys   rootfs.FS
	users  userdb.Resolver
	logger *slog.Logger
	dryRun bool
}

// NewEngine creates a new conversion engine
func NewEngine(cfg *config.Config, fsys rootfs.FS, users userdb.Resolver, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:    cfg,
		fsys:   fsys,
		users:  users,
		logger: logger,
		dryRun: dryRun,
	}
}

// walkState carries the per-run accumulation through the recursion. Entry
// lines are kept as a set: duplicates collapse, order comes from sorting
// at the end of the run.
type walkState struct {
	existing    map[string]string
	entries     map[string]struct{}
	unsupported []string
	readonly    bool
}

// Run executes a complete conversion of the configured subtree
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	subtree := e.cfg.SubtreePath()
	confDir := e.cfg.TmpfilesPath()
	e.logger.Info("starting conversion",
		"subtree", subtree,
		"tmpfiles_dir", confDir,
		"dry_run", e.dryRun)

	// Scan existing declarations and prior generations
	existing, generation, err := e.readTmpfiles()
	if err != nil {
		return nil, err
	}
	e.logger.Debug("scanned existing declarations",
		"declared", len(existing),
		"generation", generation)

	// A run directory inside the subtree must be a symlink into /run;
	// a real directory there would fight systemd over the same paths.
	runPath := path.Join(subtree, "run")
	info, err := e.fsys.Lstat(runPath)
	switch {
	case err == nil && info.Mode()&fs.ModeSymlink == 0:
		return nil, fmt.Errorf("%w: %s", ErrVarRunNotSymlink, runPath)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to inspect %s: %w", runPath, err)
	}

	// The tmpfiles.d directory is part of the systemd packaging base
	confDirExists, err := e.fsys.Exists(confDir)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", confDir, err)
	}
	if !confDirExists {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfDir, confDir)
	}

	// Walk the subtree
	st := &walkState{
		existing: existing,
		entries:  make(map[string]struct{}),
		readonly: e.dryRun,
	}
	if err := e.walk(ctx, subtree, st); err != nil {
		return nil, err
	}

	// Nothing new to declare, so no file is written
	if len(st.entries) == 0 {
		e.logger.Info("nothing to generate", "unsupported", len(st.unsupported))
		return &Result{}, nil
	}

	entries := sortedLines(st.entries)
	outputPath := path.Join(confDir, tmpfiles.GeneratedConfName(generation))

	if e.dryRun {
		for _, line := range entries {
			e.logger.Info("[dry-run] would declare", "entry", line)
		}
		e.logger.Info("dry-run complete, no changes applied",
			"entries", len(entries),
			"unsupported", len(st.unsupported),
			"output", outputPath)
		return &Result{Entries: entries, OutputPath: outputPath, Unsupported: st.unsupported}, nil
	}

	// The generation number came from the scan above, so a file already
	// sitting at the computed name is a logic error, not a case to merge.
	taken, err := e.fsys.Exists(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", outputPath, err)
	}
	if taken {
		return nil, fmt.Errorf("computed output file %s already exists", outputPath)
	}

	if err := e.fsys.WriteFileAtomic(outputPath, renderConf(entries, st.unsupported), 0o644); err != nil {
		return nil, err
	}

	e.logger.Info("conversion complete",
		"entries", len(entries),
		"unsupported", len(st.unsupported),
		"output", outputPath)
	return &Result{Entries: entries, OutputPath: outputPath, Unsupported: st.unsupported}, nil
}

// Check computes the entries a destructive run would produce, without
// deleting anything or writing any file. The entry set matches what Run
// would emit for the same tree.
func (e *Engine) Check(ctx context.Context) (*CheckResult, error) {
	existing, _, err := e.readTmpfiles()
	if err != nil {
		return nil, err
	}

	st := &walkState{
		existing: existing,
		entries:  make(map[string]struct{}),
		readonly: true,
	}
	if err := e.walk(ctx, e.cfg.SubtreePath(), st); err != nil {
		return nil, err
	}
	return &CheckResult{Entries: sortedLines(st.entries), Unsupported: st.unsupported}, nil
}

// readTmpfiles scans every conf file in the tmpfiles.d directory, building
// the map of already-declared paths and the next generation number. A
// missing directory yields an empty map: nothing is declared yet. ReadDir
// order is sorted, so duplicate declarations resolve deterministically to
// the lexicographically last file.
func (e *Engine) readTmpfiles() (map[string]string, int, error) {
	confDir := e.cfg.TmpfilesPath()
	files, err := e.fsys.ReadDir(confDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to read %s: %w", confDir, err)
	}

	existing := make(map[string]string)
	generation := 0
	for _, f := range files {
		name := f.Name()
		if !tmpfiles.IsConfFile(name) {
			continue
		}
		// The next generation is one past the highest one present
		if gen, ok := tmpfiles.GenerationFromConfName(name); ok && gen >= generation {
			generation = gen + 1
		}

		data, err := e.fsys.ReadFile(path.Join(confDir, name))
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read %s: %w", name, err)
		}
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			line := sc.Text()
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			p, err := tmpfiles.PathFromEntry(line)
			if err != nil {
				return nil, 0, fmt.Errorf("%s: %w", name, err)
			}
			existing[p] = line
		}
		if err := sc.Err(); err != nil {
			return nil, 0, fmt.Errorf("failed to scan %s: %w", name, err)
		}
	}
	return existing, generation, nil
}

// walk recurses depth-first through dir. Undeclared objects get one
// declaration each; in destructive mode every translated directory is
// removed with whatever remains inside it once its recursion finishes.
// Mount points are declared but never entered or removed.
func (e *Engine) walk(ctx context.Context, dir string, st *walkState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	children, err := e.fsys.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, child := range children {
		childPath := path.Join(dir, child.Name())
		info, err := child.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", childPath, err)
		}

		if _, declared := st.existing[childPath]; !declared {
			meta, err := e.classify(childPath, info)
			if err != nil {
				return err
			}
			if meta.Kind == tmpfiles.Unsupported {
				st.unsupported = append(st.unsupported, strings.TrimPrefix(childPath, "/"))
				e.logger.Debug("skipping unsupported object",
					"path", childPath,
					"mode", info.Mode().String())
				continue
			}
			user, group, err := e.resolveOwner(childPath, info)
			if err != nil {
				return err
			}
			line, err := tmpfiles.FormatEntry(childPath, meta, user, group)
			if err != nil {
				return fmt.Errorf("failed to format entry for %s: %w", childPath, err)
			}
			st.entries[line] = struct{}{}
		}

		if info.IsDir() {
			mount, err := e.fsys.IsMountPoint(childPath)
			if err != nil {
				return fmt.Errorf("failed to check mount point %s: %w", childPath, err)
			}
			if mount {
				e.logger.Debug("not crossing mount point", "path", childPath)
				continue
			}
			if err := e.walk(ctx, childPath, st); err != nil {
				return err
			}
			if !st.readonly {
				if err := e.fsys.RemoveAll(childPath); err != nil {
					return fmt.Errorf("failed to remove %s: %w", childPath, err)
				}
			}
		} else if !st.readonly {
			if err := e.fsys.Remove(childPath); err != nil {
				return fmt.Errorf("failed to remove %s: %w", childPath, err)
			}
		}
	}
	return nil
}

// classify inspects one object by its lstat data, never following symlinks.
func (e *Engine) classify(childPath string, info fs.FileInfo) (tmpfiles.Meta, error) {
	switch {
	case info.IsDir():
		return tmpfiles.Meta{Kind: tmpfiles.Directory, Mode: info.Mode()}, nil
	case info.Mode()&fs.ModeSymlink != 0:
		target, err := e.fsys.Readlink(childPath)
		if err != nil {
			return tmpfiles.Meta{}, fmt.Errorf("failed to read symlink %s: %w", childPath, err)
		}
		return tmpfiles.Meta{Kind: tmpfiles.Symlink, Target: target}, nil
	default:
		return tmpfiles.Meta{Kind: tmpfiles.Unsupported}, nil
	}
}

// resolveOwner maps the object's numeric owner to names. Unknown ids are
// fatal for the run: defaulting ownership would corrupt the declarations.
func (e *Engine) resolveOwner(childPath string, info fs.FileInfo) (string, string, error) {
	uid, gid, ok := rootfs.OwnerIDs(info)
	if !ok {
		return "", "", fmt.Errorf("no ownership data for %s", childPath)
	}
	user, ok := e.users.UserByUID(uid)
	if !ok {
		return "", "", fmt.Errorf("%w: uid %d owning %s", ErrUnknownUser, uid, childPath)
	}
	if !utf8.ValidString(user) {
		return "", "", fmt.Errorf("%w: user %q for uid %d", ErrNameNotUTF8, user, uid)
	}
	group, ok := e.users.GroupByGID(gid)
	if !ok {
		return "", "", fmt.Errorf("%w: gid %d owning %s", ErrUnknownGroup, gid, childPath)
	}
	if !utf8.ValidString(group) {
		return "", "", fmt.Errorf("%w: group %q for gid %d", ErrNameNotUTF8, group, gid)
	}
	return user, group, nil
}

// renderConf lays out the conf file: sorted entry lines, then up to five
// comment lines naming skipped paths, then one summary comment for the rest.
func renderConf(entries, unsupported []string) []byte {
	const sampleLimit = 5

	var b strings.Builder
	for _, line := range entries {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	for i, p := range unsupported {
		if i == sampleLimit {
			fmt.Fprintf(&b, "# varlift ignored: ...and %d more\n", len(unsupported)-sampleLimit)
			break
		}
		fmt.Fprintf(&b, "# varlift ignored: %q\n", p)
	}
	return []byte(b.String())
}

func sortedLines(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for line := range set {
		out = append(out, line)
	}
	sort.Strings(out)
	return out
}
