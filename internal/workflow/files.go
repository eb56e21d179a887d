// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"encoding/json"
	"strings"
)

type fileResult struct {
	Summary string `json:"summary"`
	Files   []File `json:"files"`
}

// ParseFileResult decodes a {"summary":..., "files":[...]} object, dropping
// entries without a path.
func ParseFileResult(obj json.RawMessage) (string, []File) {
	var res fileResult
	if err := json.Unmarshal(obj, &res); err != nil {
		return "", nil
	}

	out := make([]File, 0, len(res.Files))
	for _, f := range res.Files {
		f.Path = strings.TrimSpace(f.Path)
		if f.Path == "" {
			continue
		}
		out = append(out, f)
	}
	return strings.TrimSpace(res.Summary), out
}

// MergeFiles merges file lists by path, case-insensitive with separators
// normalized; earlier (more specific) contributors win over later ones.
func MergeFiles(primary, secondary []File) []File {
	out := make([]File, 0, len(primary)+len(secondary))
	seen := make(map[string]bool, len(primary)+len(secondary))

	for _, src := range [][]File{primary, secondary} {
		for _, f := range src {
			p := strings.TrimSpace(f.Path)
			if p == "" {
				continue
			}
			key := strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, File{Path: p, Content: f.Content})
		}
	}
	return out
}
