package platform

import "strings"

// SystemPaths is a set of executable path prefixes owned by the OS.
type SystemPaths []string

// Owns reports whether path starts with one of the prefixes. Processes
// without a known path are never system-owned.
func (s SystemPaths) Owns(path string) bool {
	if path == "" {
		return false
	}
	for _, prefix := range s {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
