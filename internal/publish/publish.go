// Package publish rewrites a snippet's result so that every scratch-area path
// in it becomes a public URL, moving the referenced files into the public store.
package publish

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"unicode/utf8"

	"github.com/sakif/actionrunner/internal/model"
	"github.com/sakif/actionrunner/internal/storage"
	"github.com/sakif/actionrunner/internal/value"
)

const (
	// PreviewLimit is the number of characters kept from a text artifact.
	PreviewLimit = 5000

	PreviewUnreadable = "Error while reading file"
	PreviewDirectory  = "Can not preview directory"
)

type Publisher struct {
	translator *storage.Translator
	logger     *slog.Logger
}

func New(translator *storage.Translator, logger *slog.Logger) *Publisher {
	return &Publisher{translator: translator, logger: logger}
}

// run carries the state of a single Publish call.
type run struct {
	ctx       context.Context
	urls      map[string]string
	artifacts []model.Artifact
}

// Publish walks v depth-first and returns a value of the same shape in which
// scratch paths are replaced by public URLs, plus one artifact per distinct
// path in first-encounter order. Any path error aborts the whole publish.
func (p *Publisher) Publish(ctx context.Context, v value.Value) (value.Value, []model.Artifact, error) {
	r := &run{ctx: ctx, urls: make(map[string]string)}
	out, err := p.visit(r, v)
	if err != nil {
		return nil, nil, err
	}
	return out, r.artifacts, nil
}

func (p *Publisher) visit(r *run, v value.Value) (value.Value, error) {
	switch t := v.(type) {
	case value.String:
		return p.visitString(r, t)
	case value.Sequence:
		items, err := p.visitAll(r, t)
		return value.Sequence(items), err
	case value.Tuple:
		items, err := p.visitAll(r, t)
		return value.Tuple(items), err
	case value.Set:
		items, err := p.visitAll(r, t)
		if err != nil {
			return nil, err
		}
		return dedupe(items), nil
	case value.Mapping:
		m := make(value.Mapping, 0, len(t))
		for _, e := range t {
			nv, err := p.visit(r, e.Value)
			if err != nil {
				return nil, err
			}
			m = append(m, value.Entry{Key: e.Key, Value: nv})
		}
		return m, nil
	default:
		return v, nil
	}
}

func (p *Publisher) visitAll(r *run, items []value.Value) ([]value.Value, error) {
	out := make([]value.Value, 0, len(items))
	for _, item := range items {
		nv, err := p.visit(r, item)
		if err != nil {
			return nil, err
		}
		out = append(out, nv)
	}
	return out, nil
}

func (p *Publisher) visitString(r *run, s value.String) (value.Value, error) {
	src := string(s)
	if !p.translator.IsScratchPath(src) {
		return s, nil
	}
	if url, ok := r.urls[src]; ok {
		return value.String(url), nil
	}
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}

	dest, err := p.translator.ToPublic(src)
	if err != nil {
		return nil, err
	}
	staged, err := p.translator.Claim(dest)
	if err != nil {
		return nil, err
	}

	info, err := os.Lstat(staged)
	if err != nil {
		p.translator.Unclaim(staged, dest)
		return nil, fmt.Errorf("stat %s: %w", src, err)
	}

	artifact := model.Artifact{SourcePath: src, URL: dest.URL, Name: dest.Name}
	if info.IsDir() {
		artifact.IsDir = true
		artifact.Preview = PreviewDirectory
		if err := os.CopyFS(dest.Path, os.DirFS(staged)); err != nil {
			p.translator.Unclaim(staged, dest)
			return nil, fmt.Errorf("copying directory %s: %w", src, err)
		}
		if err := os.RemoveAll(staged); err != nil {
			return nil, fmt.Errorf("removing %s: %w", src, err)
		}
	} else {
		if err := copyFile(staged, dest.Path); err != nil {
			p.translator.Unclaim(staged, dest)
			return nil, fmt.Errorf("copying %s: %w", src, err)
		}
		artifact.Preview = preview(dest.Path)
		if err := os.Remove(staged); err != nil {
			return nil, fmt.Errorf("removing %s: %w", src, err)
		}
	}

	p.logger.Info("artifact published", slog.String("name", dest.Name), slog.Bool("dir", info.IsDir()))
	r.urls[src] = dest.URL
	r.artifacts = append(r.artifacts, artifact)
	return value.String(dest.URL), nil
}

// dedupe drops set members that render identically after rewriting.
func dedupe(items []value.Value) value.Set {
	seen := make(map[string]bool, len(items))
	out := make(value.Set, 0, len(items))
	for _, item := range items {
		key := value.Repr(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

// preview returns the leading characters of a text file. Binary or unreadable
// files get the fixed marker.
func preview(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return PreviewUnreadable
	}
	defer f.Close()

	buf, err := io.ReadAll(io.LimitReader(f, PreviewLimit*utf8.UTFMax))
	if err != nil {
		return PreviewUnreadable
	}

	n := 0
	for i := 0; i < len(buf); {
		if n == PreviewLimit {
			return string(buf[:i])
		}
		r, size := utf8.DecodeRune(buf[i:])
		if r == utf8.RuneError && size <= 1 {
			// A rune cut off by the read limit is fine; anything else is binary.
			if len(buf)-i < utf8.UTFMax && !utf8.FullRune(buf[i:]) {
				return string(buf[:i])
			}
			return PreviewUnreadable
		}
		i += size
		n++
	}
	return string(buf)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
