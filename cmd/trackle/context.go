package main

import (
	"path/filepath"

	"trackle/internal/config"
)

// defaultConfigName is the config file looked up under the project directory
// when --config is not given.
const defaultConfigName = "trackle.toml"

type commandContext struct {
	configFlag     *string
	projectDirFlag *string

	cfg *config.Config
}

func newCommandContext(configFlag, projectDirFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, projectDirFlag: projectDirFlag}
}

// configPath resolves the effective configuration file location.
func (c *commandContext) configPath() string {
	if c.configFlag != nil && *c.configFlag != "" {
		return *c.configFlag
	}
	return filepath.Join(c.projectDir(), defaultConfigName)
}

func (c *commandContext) projectDir() string {
	if c.projectDirFlag != nil && *c.projectDirFlag != "" {
		return *c.projectDirFlag
	}
	return "."
}

// ensureConfig loads and validates the configuration once per invocation.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(c.configPath(), c.projectDir())
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}
