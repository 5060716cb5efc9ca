package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/actionrunner/internal/storage"
)

// FilesHandler serves published artifacts. URLs are resolved with the same
// translator that issued them, so only names inside the public store resolve.
type FilesHandler struct {
	translator *storage.Translator
	logger     *slog.Logger
}

func NewFilesHandler(translator *storage.Translator, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{translator: translator, logger: logger}
}

// HandleFile serves GET /files/{name}[/sub/path]. The sub path form reaches
// inside a published directory.
func (h *FilesHandler) HandleFile(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "*")
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}

	name, rest, _ := strings.Cut(raw, "/")
	local, err := h.translator.ToScratch(h.translator.URLPrefix + "/" + url.PathEscape(name))
	if err != nil {
		h.logger.Debug("file lookup failed", slog.String("name", name), slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	if rest != "" {
		local = filepath.Join(local, filepath.FromSlash(path.Clean("/"+rest)))
	}

	http.ServeFile(w, r, local)
}
