// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	authTokenService = "conductor"
	authTokenKey     = "daemon-auth-token"
	authTokenFile    = "daemon-auth-token"
)

// LoadOrCreateDaemonToken returns the bearer token internal/controller/api's
// auth middleware expects on every request. It prefers the OS keychain; when
// the keychain is unavailable (headless CI, locked session, no Secret
// Service running) it falls back to a 0600 file under the config directory.
// A token is generated on first use and persisted so
// restarts don't invalidate tokens already handed to a client.
func LoadOrCreateDaemonToken() (string, error) {
	if token, err := keyring.Get(authTokenService, authTokenKey); err == nil {
		return token, nil
	} else if !errors.Is(err, keyring.ErrNotFound) && !isKeychainUnavailable(err) {
		return "", fmt.Errorf("config: keychain error reading daemon token: %w", err)
	}

	if token, err := readTokenFile(); err == nil {
		return token, nil
	}

	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("config: failed to generate daemon token: %w", err)
	}

	if err := keyring.Set(authTokenService, authTokenKey, token); err == nil {
		return token, nil
	}

	if err := writeTokenFile(token); err != nil {
		return "", fmt.Errorf("config: failed to persist daemon token: %w", err)
	}
	return token, nil
}

// generateToken returns a 256-bit random token, hex-encoded.
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func tokenFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, authTokenFile), nil
}

func readTokenFile() (string, error) {
	path, err := tokenFilePath()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func writeTokenFile(token string) error {
	path, err := tokenFilePath()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(token+"\n"), 0o600)
}

// isKeychainUnavailable is a heuristic for telling a locked/inaccessible
// keychain apart from a real failure,
// since go-keyring doesn't expose a typed sentinel for it.
func isKeychainUnavailable(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, indicator := range []string{"locked", "cannot access", "permission denied", "secret service", "dbus", "user canceled"} {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
