package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ynab-sync/internal/config"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after applying defaults, the config file,
environment variables and flags. The API token is redacted.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return rootOpts.formatter(cmd).Success(cfg.Redacted())
			}
			return rootOpts.formatter(cmd).Success(configResult(cfg))
		},
	}
}

type configResult config.Config

func (c configResult) renderText(w io.Writer) error {
	data, err := config.Config(c).YAML()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
