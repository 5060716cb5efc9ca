// Package storage maps between the scratch area snippets write into and the
// public store that backs downloadable URLs.
package storage

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/sakif/actionrunner/internal/apperror"
)

// Translator is configured once at startup and is safe for concurrent use.
type Translator struct {
	ScratchRoot string
	PublicDir   string
	URLPrefix   string
}

// Destination is where a scratch file will live once published.
type Destination struct {
	// Source is the scratch entry with every symlink in its parents resolved.
	Source string
	// Path is the location inside the public store.
	Path string
	// Name is the unique file name: 32 hex chars, "_", original base name.
	Name string
	// URL is the externally fetchable address of Name.
	URL string
}

// NewTranslator cleans the configured roots.
func NewTranslator(scratchRoot, publicDir, urlPrefix string) *Translator {
	return &Translator{
		ScratchRoot: filepath.Clean(scratchRoot),
		PublicDir:   filepath.Clean(publicDir),
		URLPrefix:   strings.TrimRight(urlPrefix, "/"),
	}
}

// IsScratchPath reports whether s looks like a path the publisher should
// translate. It is a plain string test; ToPublic does the real validation.
func (t *Translator) IsScratchPath(s string) bool {
	return strings.HasPrefix(s, t.ScratchRoot+"/")
}

// ToPublic computes the public destination for an existing scratch file or
// directory. No copy is performed. Symbolic links are refused, as is any path
// whose parents resolve outside the scratch root.
func (t *Translator) ToPublic(scratchPath string) (Destination, error) {
	abs, err := filepath.Abs(scratchPath)
	if err != nil {
		return Destination{}, apperror.InvalidScratchPath(scratchPath, t.ScratchRoot)
	}
	abs = filepath.Clean(abs)
	if !within(abs, t.ScratchRoot) {
		return Destination{}, apperror.InvalidScratchPath(scratchPath, t.ScratchRoot)
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return Destination{}, apperror.NotFound("generated file", scratchPath)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return Destination{}, apperror.SymlinkRefused(scratchPath)
	}

	parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return Destination{}, apperror.NotFound("generated file", scratchPath)
	}
	source := filepath.Join(parent, filepath.Base(abs))
	if !within(source, t.realScratchRoot()) {
		return Destination{}, apperror.InvalidScratchPath(scratchPath, t.ScratchRoot)
	}

	id := uuid.New()
	name := hex.EncodeToString(id[:]) + "_" + filepath.Base(abs)
	return Destination{
		Source: source,
		Path:   filepath.Join(t.PublicDir, name),
		Name:   name,
		URL:    t.URLPrefix + "/" + url.PathEscape(name),
	}, nil
}

// Claim moves dest.Source to a private name under the scratch root so that no
// other publish can pick it up. The returned path must be released with
// Unclaim or consumed by the caller. A source that is already gone, because a
// concurrent publish claimed it first, is reported as not found.
func (t *Translator) Claim(dest Destination) (string, error) {
	staged := filepath.Join(t.realScratchRoot(), ".publishing-"+dest.Name[:32])
	if err := os.Rename(dest.Source, staged); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", apperror.NotFound("generated file", dest.Source)
		}
		return "", fmt.Errorf("claiming %s: %w", dest.Source, err)
	}

	info, err := os.Lstat(staged)
	if err != nil {
		return "", apperror.NotFound("generated file", dest.Source)
	}
	if !info.Mode().IsRegular() && !info.IsDir() {
		t.Unclaim(staged, dest)
		return "", apperror.SymlinkRefused(dest.Source)
	}
	if info.IsDir() {
		if err := refuseLinks(staged, dest.Source); err != nil {
			t.Unclaim(staged, dest)
			return "", err
		}
	}
	return staged, nil
}

// Unclaim puts a claimed entry back where the snippet left it.
func (t *Translator) Unclaim(staged string, dest Destination) {
	_ = os.Rename(staged, dest.Source)
}

// refuseLinks fails on the first entry under dir that is not a plain file or
// directory.
func refuseLinks(dir, reported string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() && !d.IsDir() {
			rel, _ := filepath.Rel(dir, p)
			return apperror.SymlinkRefused(filepath.Join(reported, rel))
		}
		return nil
	})
}

func (t *Translator) realScratchRoot() string {
	if resolved, err := filepath.EvalSymlinks(t.ScratchRoot); err == nil {
		return resolved
	}
	return t.ScratchRoot
}

func within(p, root string) bool {
	return strings.HasPrefix(p, root+string(filepath.Separator))
}

// ToScratch resolves a URL previously issued by ToPublic to the file that
// backs it in the public store.
func (t *Translator) ToScratch(publicURL string) (string, error) {
	if !strings.HasPrefix(publicURL, t.URLPrefix+"/") {
		return "", apperror.PrefixMismatch(publicURL)
	}

	escaped := strings.TrimPrefix(publicURL, t.URLPrefix+"/")
	name, err := url.PathUnescape(escaped)
	if err != nil {
		return "", apperror.PrefixMismatch(publicURL)
	}
	if name == "" || name != path.Base(name) || name == ".." || strings.ContainsRune(name, filepath.Separator) {
		return "", apperror.InvalidScratchPath(name, t.PublicDir)
	}

	local := filepath.Join(t.PublicDir, name)
	if _, err := os.Stat(local); err != nil {
		return "", apperror.NotFound("file", name)
	}
	return local, nil
}
