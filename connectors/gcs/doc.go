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
Package gcs provides a Google Cloud Storage connector.

	connectors:
	  media:
	    type: gcs
	    credentials:
	      credentials_file: /etc/conhub/gcs-service-account.json
	    options:
	      bucket: ${GCS_BUCKET}
	      prefix: published/

Credentials may also be given inline as credentials_json. With neither, the
client uses Application Default Credentials. The endpoint and anonymous
options point the connector at an emulator.
*/
package gcs
