package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

const (
	EnvDirectoryApprovers      = "DOCFLOW_DIRECTORY_APPROVERS"
	EnvDirectoryAdministrators = "DOCFLOW_DIRECTORY_ADMINISTRATORS"
)

// DirectoryConfig lists the identities known to the static user directory.
// An empty Approvers list treats every approver id as eligible.
type DirectoryConfig struct {
	Approvers      []string `toml:"approvers"`
	Administrators []string `toml:"administrators"`
}

// Finalize applies environment variable overrides and validation.
func (c *DirectoryConfig) Finalize() error {
	c.loadEnv()
	return c.validate()
}

// Merge overwrites lists present in overlay.
func (c *DirectoryConfig) Merge(overlay *DirectoryConfig) {
	if overlay.Approvers != nil {
		c.Approvers = overlay.Approvers
	}
	if overlay.Administrators != nil {
		c.Administrators = overlay.Administrators
	}
}

func (c *DirectoryConfig) loadEnv() {
	if v := os.Getenv(EnvDirectoryApprovers); v != "" {
		c.Approvers = splitIDs(v)
	}
	if v := os.Getenv(EnvDirectoryAdministrators); v != "" {
		c.Administrators = splitIDs(v)
	}
}

func (c *DirectoryConfig) validate() error {
	if slices.Contains(c.Approvers, "") || slices.Contains(c.Administrators, "") {
		return fmt.Errorf("identities must not be empty")
	}
	return nil
}

func splitIDs(v string) []string {
	parts := strings.Split(v, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if id := strings.TrimSpace(p); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
