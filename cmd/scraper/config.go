package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aluiziolira/go-scrape-ebay/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := renderConfig(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

// renderConfig marshals c with the API key masked.
func renderConfig(c *config.Config) ([]byte, error) {
	masked := *c
	if masked.LLM.APIKey != "" {
		masked.LLM.APIKey = "********"
	}
	data, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, eris.Wrap(err, "marshal config")
	}
	return data, nil
}

func init() {
	rootCmd.AddCommand(configCmd)
}
