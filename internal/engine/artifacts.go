// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"path"
	"regexp"
	"strings"
)

var artifactNameRe = regexp.MustCompile(`[^a-zA-Z0-9._/ -]`)

// sanitizeArtifactName normalizes a model-chosen file path into a safe
// artifact name: separators unified, traversal segments stripped, anything
// outside a conservative character set replaced.
func sanitizeArtifactName(name string) string {
	s := strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	s = artifactNameRe.ReplaceAllString(s, "_")

	parts := strings.Split(s, "/")
	clean := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || p == "." || p == ".." {
			continue
		}
		clean = append(clean, p)
	}
	out := strings.Join(clean, "/")
	if out == "" {
		return "artifact.txt"
	}
	return out
}

var mimeByExt = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "text/javascript",
	".mjs":  "text/javascript",
	".json": "application/json",
	".md":   "text/markdown",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".svg":  "image/svg+xml",
	".xml":  "application/xml",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
	".py":   "text/x-python",
	".go":   "text/x-go",
	".sql":  "application/sql",
	".sh":   "application/x-sh",
}

func guessMIME(name string) string {
	if mt, ok := mimeByExt[strings.ToLower(path.Ext(name))]; ok {
		return mt
	}
	return "text/plain"
}
