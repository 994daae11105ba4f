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
Package logger provides structured JSON logging for the connector router.

Each entry is a single JSON line carrying the timestamp, level, component,
instance and container, the principal the work was done for, the request id
and free-form fields:

	{"timestamp":"2025-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"router","instance_id":"i-abc123","container":"router-xyz",
	 "principal":"alice","request_id":"req-456",
	 "message":"dispatch","fields":{"method":"drive.search","code":"OK","duration_ms":12.5}}

Usage:

	log := logger.New("router")
	log.InfoWithDuration(principal, requestID, "dispatch", ms, map[string]interface{}{
	    "method": "drive.search",
	})

Entries go to stderr; stdout is reserved for the stdio transport. The
INSTANCE_ID and LOG_LEVEL environment variables configure the instance name
and minimum level.

Logger instances are safe for concurrent use.
*/
package logger
