package service

import (
	"fmt"
	"path/filepath"
	"strings"
)

const maxStemLength = 55

var stemReplacer = strings.NewReplacer("%", "_", " ", "_", "&", "and")

// SanitizeStem makes a filename stem safe to use in a custom_id and, later,
// as an output filename.
func SanitizeStem(stem string) string {
	safe := []rune(stemReplacer.Replace(stem))
	if len(safe) > maxStemLength {
		safe = safe[:maxStemLength]
	}
	return string(safe)
}

func fileStem(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		return base
	}
	return stem
}

// idRegistry hands out custom ids that are unique within one batch file.
type idRegistry map[string]struct{}

func (r idRegistry) claim(id string) string {
	if _, taken := r[id]; !taken {
		r[id] = struct{}{}
		return id
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", id, n)
		if _, taken := r[candidate]; !taken {
			r[candidate] = struct{}{}
			return candidate
		}
	}
}
