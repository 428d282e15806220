package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"bookvoice/internal/apiclient"
	"bookvoice/internal/config"
	"bookvoice/internal/logging"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string
	jsonFlag   *bool

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag, apiFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, exists, err := config.Load(c.configFlagValue())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
		c.configExists = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) configFlagValue() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// apiBind returns the --api override or the configured bind address.
func (c *commandContext) apiBind() string {
	if c.apiFlag != nil {
		if value := strings.TrimSpace(*c.apiFlag); value != "" {
			return value
		}
	}
	cfg, err := c.ensureConfig()
	if err != nil || cfg == nil {
		return ""
	}
	return cfg.Paths.APIBind
}

func (c *commandContext) apiToken() string {
	cfg, err := c.ensureConfig()
	if err != nil || cfg == nil {
		return ""
	}
	return cfg.Paths.APIToken
}

func (c *commandContext) withClient(fn func(*apiclient.Client) error) error {
	bind := c.apiBind()
	client, err := apiclient.New(bind, c.apiToken())
	if err != nil {
		return fmt.Errorf("daemon api address %q: %w", bind, err)
	}
	if client == nil {
		return errors.New("daemon API address is not configured; set paths.api_bind or pass --api")
	}
	return wrapAPIError(fn(client), bind)
}

func wrapAPIError(err error, bind string) error {
	switch {
	case err == nil:
		return nil
	case apiclient.IsAPIUnavailable(err):
		return fmt.Errorf("connect to daemon at %s: %w; start it with `bookvoice serve`", bind, err)
	default:
		return err
	}
}

// logger builds the CLI logger. Local runs log to a file under
// paths.log_dir so progress lines own the terminal; verbose mirrors records
// to stderr.
func (c *commandContext) logger(name string, verbose bool) (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	outputs := []string{filepath.Join(cfg.Paths.LogDir, name+".log")}
	if verbose {
		outputs = append(outputs, "stderr")
	}
	return logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
