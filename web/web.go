// Package web embeds the monitor dashboard so the binary has no runtime
// file dependencies.
package web

import (
	"embed"
	"io/fs"
)

//go:embed templates/*.html
var content embed.FS

// Templates returns the HTML templates rooted at the templates directory.
func Templates() fs.FS {
	sub, err := fs.Sub(content, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}
