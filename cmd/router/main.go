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

// Command router serves the connector protocol router over HTTP or stdio.
//
// Usage:
//
//	./router                      serve using the environment below
//	./router config example       print an annotated connectors.yaml
//	./router config validate FILE check a connectors file
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8090)
//	CONHUB_TRANSPORT - http or stdio (default: http)
//	CONHUB_CONFIG_FILE - connectors YAML file (default: ./config/connectors.yaml)
//	CONHUB_CONNECTORS - "<id>:<type>" list used when no config file exists
//	CONHUB_RATE_LIMIT - requests per second per principal (default: off)
//	CONHUB_CREDENTIAL_STORE - memory, redis or keyring (default: memory)
//	CONHUB_JWT_SECRET - HMAC secret for bearer tokens on /rpc
//	CONHUB_PRINCIPAL - principal used for stdio requests
//	REDIS_URL - Redis connection string for the redis credential store
//	DATABASE_URL - PostgreSQL connection string for registry persistence
//	AWS_REGION - region for Secrets Manager references
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "router",
		Short:         "Connector protocol router",
		Long:          `router dispatches namespaced envelope requests to registered connectors.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	cmd.AddCommand(configCmd())
	return cmd
}
