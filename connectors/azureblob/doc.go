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
Package azureblob provides an Azure Blob Storage connector.

	connectors:
	  contracts:
	    type: azure-blob
	    credentials:
	      account_key: secretsmanager:conhub/azure#account_key
	    options:
	      account_name: contoso
	      container: contracts

Authentication is chosen in order: connection_string credential, account_key
credential with account_name, then DefaultAzureCredential (managed identity,
workload identity, Azure CLI). account_url overrides the endpoint derived from
account_name, which is how Azurite and sovereign clouds are reached.
*/
package azureblob
