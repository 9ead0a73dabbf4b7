package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ByteInternet/nginx-config-reloader/internal/config"
	"github.com/ByteInternet/nginx-config-reloader/internal/ipc"
)

// configOverrides holds the command line switches that win over the file.
type configOverrides struct {
	watchDir      string
	recursive     bool
	useSystemd    bool
	natsServer    string
	noMagento     bool
	noCustom      bool
	allowIncludes bool
}

func (o configOverrides) apply(cfg *config.Config) bool {
	changed := false
	if dir := strings.TrimSpace(o.watchDir); dir != "" {
		cfg.Paths.WatchDir = dir
		// Derived from the watched directory unless set explicitly.
		cfg.Nginx.Magento2Flag = ""
		changed = true
	}
	if o.recursive {
		cfg.Watch.Recursive = true
		changed = true
	}
	if o.useSystemd {
		cfg.Reload.Mode = config.ReloadModeSystemd
		changed = true
	}
	if server := strings.TrimSpace(o.natsServer); server != "" {
		cfg.NATS.Server = server
		changed = true
	}
	if o.noMagento {
		cfg.Features.MagentoConfig = false
		changed = true
	}
	if o.noCustom {
		cfg.Features.CustomConfig = false
		changed = true
	}
	if o.allowIncludes {
		cfg.Policy.AllowIncludes = true
		changed = true
	}
	return changed
}

type commandContext struct {
	socketFlag *string
	configFlag *string
	overrides  *configOverrides

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(socketFlag, configFlag *string, overrides *configOverrides) *commandContext {
	return &commandContext{
		socketFlag: socketFlag,
		configFlag: configFlag,
		overrides:  overrides,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.overrides != nil && c.overrides.apply(cfg) {
			if err := cfg.Finalize(); err != nil {
				c.configErr = err
				return
			}
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) socketPath() string {
	if c.socketFlag != nil {
		if socket := strings.TrimSpace(*c.socketFlag); socket != "" {
			return socket
		}
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.SocketPath()
	}
	defaults := config.Default()
	return defaults.SocketPath()
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	client, err := c.dialClient()
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func (c *commandContext) dialClient() (*ipc.Client, error) {
	socket := c.socketPath()
	client, err := ipc.Dial(socket)
	if err != nil {
		return nil, wrapDialError(err, socket)
	}
	return client, nil
}

func wrapDialError(err error, socket string) error {
	switch {
	case errors.Is(err, syscall.ENOENT) || os.IsNotExist(err):
		return fmt.Errorf("connect to daemon: socket %s not found; start the daemon with `nginx-config-reloader start`", socket)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to daemon: socket %s refused the connection; verify the daemon is running", socket)
	default:
		return fmt.Errorf("connect to daemon: %w", err)
	}
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
