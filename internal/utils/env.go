package utils

import (
	"os"
	"strings"
)

// GetEnv reads an environment variable, falling back to defaultVal when the
// variable is unset or blank.
func GetEnv(key, defaultVal string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	return val
}
