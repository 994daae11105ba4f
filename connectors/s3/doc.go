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
Package s3 provides an Amazon S3 connector.

Objects of one bucket are exposed as resources keyed by object key. The
connector works with S3-compatible services such as MinIO, DigitalOcean
Spaces and Cloudflare R2.

# Configuration

	connectors:
	  archive:
	    type: s3
	    credentials:
	      access_key_id: ${AWS_ACCESS_KEY_ID}
	      secret_access_key: secretsmanager:conhub/s3#secret_access_key
	    options:
	      bucket: company-docs
	      region: eu-west-1
	      prefix: shared/
	      endpoint: http://localhost:9000   # S3-compatible services
	      force_path_style: true

Without explicit keys the default AWS credential chain is used (environment,
shared config, IAM role).

Listings carry no content type, so search by mimeType only matches objects
whose content type is known; getContext issues a HEAD before downloading.
*/
package s3
