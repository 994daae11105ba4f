// Copyright 2025 AxonFlow
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

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"conhub/platform/connectors/config"
)

// configCmd returns the config subcommand for working with connectors files
func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect connector configuration",
	}
	cmd.AddCommand(configExampleCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configExampleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "example",
		Short: "Print an annotated example connectors.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), config.GenerateExampleConfigFile())
			return err
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a connectors file and list the enabled connectors",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.FindConfigFile()
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no config file found; pass one or set %s", config.ConfigFileEnv)
			}

			loader, err := config.NewYAMLConfigFileLoader(path)
			if err != nil {
				return err
			}
			connectors, err := loader.LoadConnectors()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: version %s, %d enabled connector(s)\n", path, loader.File().Version, len(connectors))
			for _, cc := range connectors {
				if err := config.ValidateConfig(cc); err != nil {
					return err
				}
				fmt.Fprintf(out, "  %-20s %s\n", cc.Name, cc.Type)
			}
			return nil
		},
	}
}
