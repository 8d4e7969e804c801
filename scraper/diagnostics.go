package scraper

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// ArtifactName joins parts into a deterministic, filesystem-safe file name.
func ArtifactName(ext string, parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(unsafeNameChars.ReplaceAllString(p, "-"), "-.")
		if p != "" {
			clean = append(clean, p)
		}
	}
	name := strings.Join(clean, "_")
	if len(name) > 120 {
		name = name[:120]
	}
	if name == "" {
		name = "artifact"
	}
	return name + "." + strings.TrimPrefix(ext, ".")
}

// SaveArtifact writes data to root/sub/name and returns the path relative
// to root, using forward slashes.
func SaveArtifact(root, sub, name string, data []byte) (string, error) {
	if root == "" {
		return "", fmt.Errorf("save artifact %s: no artifact directory configured", name)
	}
	dir := filepath.Join(root, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("save artifact %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("save artifact %s: %w", name, err)
	}
	return filepath.ToSlash(filepath.Join(sub, name)), nil
}
