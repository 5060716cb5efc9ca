// Package model defines the data structures returned by the actions.
package model

// Response is what every action hands back to the calling host: a body and a
// content type the host branches on (text/plain, text/error, text/uri-list).
type Response struct {
	Body        string `json:"body"`
	ContentType string `json:"content-type"`
}

// Artifact is one file or directory moved out of the scratch area by a publish.
type Artifact struct {
	// SourcePath is the original scratch path. It is never serialised.
	SourcePath string `json:"-"`
	// Preview is the first 5000 characters of a text file, or a fixed marker
	// for directories and unreadable files.
	Preview string `json:"preview"`
	URL     string `json:"url"`
	// Name is the public file name: 32 hex chars, "_", original base name.
	Name  string `json:"name"`
	IsDir bool   `json:"isDir,omitempty"`
}
