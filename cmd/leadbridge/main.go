// ABOUTME: Entry point for leadbridge, the sales chat bot bridging chat, assistant and CRM
// ABOUTME: Parses the command line with go-flags and dispatches to serve, check-config or ledger

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/nscnavi/leadbridge/internal/config"
)

// Version is set at build time.
var version = "dev"

const banner = `
 _                _ _          _     _
| | ___  __ _  __| | |__  _ __(_) __| | __ _  ___
| |/ _ \/ _' |/ _' | '_ \| '__| |/ _' |/ _' |/ _ \
| |  __/ (_| | (_| | |_) | |  | | (_| | (_| |  __/
|_|\___|\__,_|\__,_|_.__/|_|  |_|\__,_|\__, |\___|
                                       |___/
`

// Options is the root command. Sub-commands read the global flags from the
// package-level options value.
type Options struct {
	Config  string `short:"f" long:"config" env:"LEADBRIDGE_CONFIG" description:"config file (YAML, or TOML by extension); environment-only when empty"`
	EnvFile string `long:"env-file" default:".env" description:"KEY=VALUE file loaded before the config (missing file is ignored)"`

	Serve       ServeCmd       `command:"serve" description:"Run the chat frontends and the HTTP server"`
	CheckConfig CheckConfigCmd `command:"check-config" description:"Load and validate the configuration, then exit"`
	Ledger      LedgerCmd      `command:"ledger" description:"List recent tool calls from the ledger"`
	Version     VersionCmd     `command:"version" description:"Print the version"`
}

var options Options

func main() {
	parser := flags.NewParser(&options, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Println(flagsErr.Message)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the .env file and then the configuration selected by the
// global flags.
func loadConfig() (*config.Config, string, error) {
	if err := config.LoadDotEnv(options.EnvFile); err != nil {
		return nil, "", err
	}
	if options.Config == "" {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			return nil, "", fmt.Errorf("loading config from environment: %w", err)
		}
		return cfg, "(environment)", nil
	}
	cfg, err := config.Load(options.Config)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, options.Config, nil
}

// CheckConfigCmd validates the configuration.
type CheckConfigCmd struct{}

func (c *CheckConfigCmd) Execute(_ []string) error {
	cfg, source, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Printf("config ok: %s\n", source)
	fmt.Printf("  frontends: %v\n", enabledFrontends(cfg))
	if cfg.Database.Path != "" {
		fmt.Printf("  ledger:    %s\n", cfg.Database.Path)
	}
	return nil
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Execute(_ []string) error {
	fmt.Println(version)
	return nil
}

func enabledFrontends(cfg *config.Config) []string {
	var names []string
	if cfg.Frontends.Telegram.Enabled {
		names = append(names, "telegram")
	}
	if cfg.Frontends.Matrix.Enabled {
		names = append(names, "matrix")
	}
	return names
}
