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

/*
Package config loads connector and server configuration.

# Configuration File

Connectors are declared in a YAML file found through CONHUB_CONFIG_FILE, or
./config/connectors.yaml, or /etc/conhub/connectors.yaml:

	version: "1.0"
	connectors:
	  docs:
	    type: filesystem
	    options:
	      root: ${FILESYSTEM_ROOT:-./data}

References of the form ${VAR} and ${VAR:-default} are expanded before
parsing. Entries with enabled: false are skipped.

# Environment Defaults

ApplyEnvDefaults fills credentials and options that the file leaves empty:
GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URL for Drive,
the GITHUB_* equivalents for GitHub, FILESYSTEM_ROOT, S3_BUCKET, GCS_BUCKET
and the AZURE_STORAGE_* variables for object stores.

A single connector can also be described entirely by CONHUB_<ID>_ variables,
see LoadFromEnv.

# Secrets

Credential values of the form secretsmanager:<name>[#field] are resolved by
ResolveSecrets through AWS Secrets Manager, cached for five minutes.

# Server Settings

LoadServerConfig reads PORT, CONHUB_TRANSPORT, CONHUB_JWT_SECRET,
CONHUB_CREDENTIAL_STORE, REDIS_URL, DATABASE_URL, CONHUB_HEALTH_INTERVAL,
CONHUB_HEALTH_TIMEOUT, CONHUB_CALL_TIMEOUT and CONHUB_CORS_ORIGINS.
*/
package config
