package capability

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sakif/actionrunner/internal/apperror"
)

// MaxStringBytes caps any string a native helper builds.
const MaxStringBytes = 16 << 20

func textBundle(string) map[string]Func {
	return map[string]Func{
		"upper": func(args ...any) (any, error) {
			s, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			return strings.ToUpper(s), nil
		},
		"lower": func(args ...any) (any, error) {
			s, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			return strings.ToLower(s), nil
		},
		"trim": func(args ...any) (any, error) {
			s, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			return strings.TrimSpace(s), nil
		},
		"split": func(args ...any) (any, error) {
			s, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			sep, err := stringArg(args, 1)
			if err != nil {
				return nil, err
			}
			parts := strings.Split(s, sep)
			out := make([]any, len(parts))
			for i, p := range parts {
				out[i] = p
			}
			return out, nil
		},
		"join": func(args ...any) (any, error) {
			if len(args) < 2 {
				return nil, fmt.Errorf("join expects (items, sep)")
			}
			items, ok := args[0].([]any)
			if !ok {
				return nil, fmt.Errorf("join: items must be an array, got %T", args[0])
			}
			sep, err := stringArg(args, 1)
			if err != nil {
				return nil, err
			}
			parts := make([]string, len(items))
			for i, item := range items {
				parts[i] = fmt.Sprint(item)
			}
			return strings.Join(parts, sep), nil
		},
		"repeat": func(args ...any) (any, error) {
			s, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			n, err := intArg(args, 1)
			if err != nil {
				return nil, err
			}
			if n < 0 {
				return nil, fmt.Errorf("repeat: negative count %d", n)
			}
			if n > 0 && len(s) > MaxStringBytes/n {
				return nil, fmt.Errorf("RangeError: repeat result exceeds %d bytes", MaxStringBytes)
			}
			return strings.Repeat(s, n), nil
		},
	}
}

// filesBundle gives snippets a way to produce artifacts. Writes are confined to
// the scratch root; reads are not.
func filesBundle(scratchRoot string) map[string]Func {
	confine := func(path string) (string, error) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", err
		}
		abs = filepath.Clean(abs)
		root := filepath.Clean(scratchRoot)
		if !strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return "", apperror.InvalidScratchPath(path, root)
		}
		return abs, nil
	}

	return map[string]Func{
		"scratchPath": func(args ...any) (any, error) {
			name, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			return confine(filepath.Join(scratchRoot, name))
		},
		"writeFile": func(args ...any) (any, error) {
			path, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			content, err := stringArg(args, 1)
			if err != nil {
				return nil, err
			}
			abs, err := confine(path)
			if err != nil {
				return nil, err
			}
			if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
				return nil, err
			}
			return abs, nil
		},
		"readFile": func(args ...any) (any, error) {
			path, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return string(data), nil
		},
		"makeDir": func(args ...any) (any, error) {
			path, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			abs, err := confine(path)
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(abs, 0o755); err != nil {
				return nil, err
			}
			return abs, nil
		},
		"listDir": func(args ...any) (any, error) {
			path, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			entries, err := os.ReadDir(path)
			if err != nil {
				return nil, err
			}
			names := make([]any, len(entries))
			for i, e := range entries {
				names[i] = e.Name()
			}
			return names, nil
		},
	}
}

func hashBundle(string) map[string]Func {
	return map[string]Func{
		"sha256": func(args ...any) (any, error) {
			s, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			sum := sha256.Sum256([]byte(s))
			return hex.EncodeToString(sum[:]), nil
		},
		"randomHex": func(args ...any) (any, error) {
			n, err := intArg(args, 0)
			if err != nil {
				return nil, err
			}
			if n <= 0 || n > 1024 {
				return nil, fmt.Errorf("randomHex: byte count %d out of range", n)
			}
			buf := make([]byte, n)
			if _, err := rand.Read(buf); err != nil {
				return nil, err
			}
			return hex.EncodeToString(buf), nil
		},
	}
}

func stringArg(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i+1)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d must be a string, got %T", i+1, args[i])
	}
	return s, nil
}

func intArg(args []any, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i+1)
	}
	switch n := args[i].(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("argument %d must be an integer, got %v", i+1, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("argument %d must be a number, got %T", i+1, args[i])
	}
}
