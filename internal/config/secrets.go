package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecret reads a secret using the *_FILE convention: when envName+"_FILE"
// is set its file content (trimmed) wins, otherwise the value of envName is
// used. Missing secrets resolve to "".
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if filePath := os.Getenv(fileEnv); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, filePath, err)
		}
		return strings.TrimSpace(string(content)), nil
	}
	return os.Getenv(envName), nil
}

// Credentials is a user/password pair.
type Credentials struct {
	User     string
	Password string
}

// Set reports whether both halves are present.
func (c Credentials) Set() bool {
	return c.User != "" && c.Password != ""
}

// ResolveCredentials resolves prefix+"_USER" and prefix+"_PASS".
func ResolveCredentials(prefix string) (Credentials, error) {
	user, err := ResolveSecret(prefix + "_USER")
	if err != nil {
		return Credentials{}, err
	}
	pass, err := ResolveSecret(prefix + "_PASS")
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{User: user, Password: pass}, nil
}
