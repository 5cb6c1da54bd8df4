// Package config holds the client-side per-workspace configuration: a
// server address and a workspace name, loadable from a YAML file with
// environment-variable fallback.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Client is the per-workspace configuration consumed by pkg/clientstore.
type Client struct {
	ServerAddress string `yaml:"server_address"`
	WorkspaceName string `yaml:"workspace_name"`
}

const (
	envServerAddress = "TANDEM_SERVER"
	envWorkspaceName = "TANDEM_WORKSPACE"
)

// Load reads a Client config from path, then applies environment-variable
// fallbacks for any field the file left empty (or if path does not exist
// at all). It never fails solely because the file is missing; the CLI
// front-end that owns flag/file/env precedence is expected to call this
// only when it has a path to offer.
func Load(path string) (Client, error) {
	var c Client
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env-only config
		case err != nil:
			return Client{}, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &c); err != nil {
				return Client{}, fmt.Errorf("config: decode %s: %w", path, err)
			}
		}
	}

	if c.ServerAddress == "" {
		c.ServerAddress = os.Getenv(envServerAddress)
	}
	if c.WorkspaceName == "" {
		c.WorkspaceName = os.Getenv(envWorkspaceName)
	}

	return c, nil
}

// Validate reports a descriptive error naming the missing field and how
// to supply it.
func (c Client) Validate() error {
	if c.ServerAddress == "" {
		return fmt.Errorf("config: server address is required (set %s or server_address in the config file)", envServerAddress)
	}
	if c.WorkspaceName == "" {
		return fmt.Errorf("config: workspace name is required (set %s or workspace_name in the config file)", envWorkspaceName)
	}
	return nil
}
