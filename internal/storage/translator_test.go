package storage

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/actionrunner/internal/apperror"
)

const testPrefix = "https://files.example.com/generated"

func newTestTranslator(t *testing.T) *Translator {
	t.Helper()
	return NewTranslator(t.TempDir(), t.TempDir(), testPrefix+"/")
}

func TestToPublic(t *testing.T) {
	tr := newTestTranslator(t)
	src := filepath.Join(tr.ScratchRoot, "my plot.png")
	require.NoError(t, os.WriteFile(src, []byte("png"), 0o644))

	dest, err := tr.ToPublic(src)
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}_my plot\.png$`), dest.Name)
	assert.Equal(t, filepath.Join(tr.PublicDir, dest.Name), dest.Path)
	assert.Equal(t, testPrefix+"/"+dest.Name[:32]+"_my%20plot.png", dest.URL)
	assert.FileExists(t, src, "ToPublic must not move anything")
	assert.NoFileExists(t, dest.Path)
}

func TestToPublic_TokensAreUnique(t *testing.T) {
	tr := newTestTranslator(t)
	src := filepath.Join(tr.ScratchRoot, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("a"), 0o644))

	first, err := tr.ToPublic(src)
	require.NoError(t, err)
	second, err := tr.ToPublic(src)
	require.NoError(t, err)

	assert.NotEqual(t, first.Name, second.Name)
}

func TestToPublic_Errors(t *testing.T) {
	tr := newTestTranslator(t)

	tests := []struct {
		name string
		path string
		want error
	}{
		{"outside scratch root", "/etc/passwd", apperror.ErrPathViolation},
		{"traversal out of root", filepath.Join(tr.ScratchRoot, "..", "x.txt"), apperror.ErrPathViolation},
		{"root itself", tr.ScratchRoot, apperror.ErrPathViolation},
		{"missing file", filepath.Join(tr.ScratchRoot, "missing.txt"), apperror.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.ToPublic(tt.path)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestToPublic_RefusesLinksOutOfRoot(t *testing.T) {
	tr := newTestTranslator(t)
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("HOST SECRET"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "inner.txt"), []byte("x"), 0o644))

	fileLink := filepath.Join(tr.ScratchRoot, "x")
	require.NoError(t, os.Symlink(secret, fileLink))
	dirLink := filepath.Join(tr.ScratchRoot, "d")
	require.NoError(t, os.Symlink(outside, dirLink))

	for _, p := range []string{fileLink, dirLink, filepath.Join(dirLink, "inner.txt")} {
		_, err := tr.ToPublic(p)
		assert.ErrorIs(t, err, apperror.ErrPathViolation, p)
	}
}

func TestClaim(t *testing.T) {
	tr := newTestTranslator(t)
	src := filepath.Join(tr.ScratchRoot, "out.png")
	require.NoError(t, os.WriteFile(src, []byte("png"), 0o644))

	dest, err := tr.ToPublic(src)
	require.NoError(t, err)

	staged, err := tr.Claim(dest)
	require.NoError(t, err)
	assert.NoFileExists(t, src)
	assert.FileExists(t, staged)

	_, err = tr.Claim(dest)
	assert.ErrorIs(t, err, apperror.ErrNotFound, "a claimed source cannot be claimed again")

	tr.Unclaim(staged, dest)
	assert.FileExists(t, src)
}

func TestClaim_RefusesLinksInsideDirectory(t *testing.T) {
	tr := newTestTranslator(t)
	dir := filepath.Join(tr.ScratchRoot, "out")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.txt"), []byte("ok"), 0o644))
	require.NoError(t, os.Symlink("/etc/hostname", filepath.Join(dir, "leak")))

	dest, err := tr.ToPublic(dir)
	require.NoError(t, err)

	_, err = tr.Claim(dest)
	assert.ErrorIs(t, err, apperror.ErrPathViolation)
	assert.DirExists(t, dir, "a refused directory is put back")
}

func TestToScratch_RoundTrip(t *testing.T) {
	tr := newTestTranslator(t)
	src := filepath.Join(tr.ScratchRoot, "report.csv")
	require.NoError(t, os.WriteFile(src, []byte("a,b\n1,2\n"), 0o644))

	dest, err := tr.ToPublic(src)
	require.NoError(t, err)
	data, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dest.Path, data, 0o644))

	local, err := tr.ToScratch(dest.URL)
	require.NoError(t, err)

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(got))
}

func TestToScratch_Errors(t *testing.T) {
	tr := newTestTranslator(t)

	tests := []struct {
		name string
		url  string
		want error
	}{
		{"foreign prefix", "https://evil.example.com/generated/x.txt", apperror.ErrPathViolation},
		{"prefix without separator", testPrefix + "x.txt", apperror.ErrPathViolation},
		{"escaped traversal", testPrefix + "/..%2Fsecret", apperror.ErrPathViolation},
		{"dot dot", testPrefix + "/..", apperror.ErrPathViolation},
		{"unknown file", testPrefix + "/0123_missing.txt", apperror.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.ToScratch(tt.url)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestIsScratchPath(t *testing.T) {
	tr := NewTranslator("/tmp", "/srv/public", testPrefix)

	assert.True(t, tr.IsScratchPath("/tmp/out.png"))
	assert.False(t, tr.IsScratchPath("/tmp"))
	assert.False(t, tr.IsScratchPath("/tmpfoo/out.png"))
	assert.False(t, tr.IsScratchPath("relative/tmp/out.png"))
}
