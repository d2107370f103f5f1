// CLAUDE:SUMMARY Directory sink: writes files under a root, guards traversal, resolves collisions as "name (n).ext" or replaces in place.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hazyhaar/pagesaver/horosafe"
)

// maxCollisions bounds the "name (n)" search.
const maxCollisions = 10000

// Dir writes files under a root directory. An existing file is never
// overwritten: "shot.png" becomes "shot (1).png", "shot (2).png", ...
type Dir struct {
	root string
}

// NewDir creates the root directory if needed.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create %s: %w", root, err)
	}
	return &Dir{root: root}, nil
}

// Root is the directory files are written under.
func (d *Dir) Root() string { return d.root }

// prepare validates suggestedPath and creates its parent directory. It
// returns the directory and file name, both relative to the root.
func (d *Dir) prepare(ctx context.Context, suggestedPath string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if _, err := horosafe.SafePath(d.root, suggestedPath); err != nil {
		return "", "", fmt.Errorf("sink: %q: %w", suggestedPath, err)
	}
	rel := path.Clean("/" + filepath.ToSlash(suggestedPath))[1:]
	if rel == "" || strings.HasSuffix(suggestedPath, "/") {
		return "", "", fmt.Errorf("sink: invalid path %q", suggestedPath)
	}

	dir, name := filepath.Split(filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Join(d.root, dir), 0o755); err != nil {
		return "", "", fmt.Errorf("sink: mkdir: %w", err)
	}
	return dir, name, nil
}

// Persist writes data and returns the path relative to the root.
func (d *Dir) Persist(ctx context.Context, data []byte, suggestedPath string) (string, error) {
	dir, name, err := d.prepare(ctx, suggestedPath)
	if err != nil {
		return "", err
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 0; n < maxCollisions; n++ {
		candidate := name
		if n > 0 {
			candidate = stem + " (" + strconv.Itoa(n) + ")" + ext
		}
		full := filepath.Join(d.root, dir, candidate)
		f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("sink: create %s: %w", candidate, err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(full)
			return "", fmt.Errorf("sink: write %s: %w", candidate, err)
		}
		if err := f.Close(); err != nil {
			os.Remove(full)
			return "", fmt.Errorf("sink: close %s: %w", candidate, err)
		}
		return filepath.ToSlash(filepath.Join(dir, candidate)), nil
	}
	return "", fmt.Errorf("sink: too many files named %q", name)
}

// Replace writes data at exactly relPath, replacing an existing file. The
// content goes to a temporary file in the same directory first, so a
// reader never sees a partial page.
func (d *Dir) Replace(ctx context.Context, data []byte, relPath string) (string, error) {
	dir, name, err := d.prepare(ctx, relPath)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(filepath.Join(d.root, dir), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("sink: create %s: %w", name, err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("sink: write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("sink: close %s: %w", name, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("sink: chmod %s: %w", name, err)
	}
	if err := os.Rename(tmp, filepath.Join(d.root, dir, name)); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("sink: rename %s: %w", name, err)
	}
	return filepath.ToSlash(filepath.Join(dir, name)), nil
}

func (d *Dir) Close() error { return nil }
