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
Package router dispatches Protocol Envelope requests to registered
connectors.

A request names its target as "<connectorId>.<operation>". Dispatch resolves
the connector in the registry, rejects operations the connector does not
advertise before any upstream call, fails fast when the health aggregator
has marked the connector unhealthy, attaches the caller's credential for
data operations of connectors that require auth, and invokes the operation
on its own goroutine so a slow or hanging connector never stalls other
dispatches. Every outcome, including connector panics and caller
cancellation, is returned as an envelope with either a result or an error
carrying a stable code:

	{"id":"1","result":{"results":[...],"total":2,"hasMore":true}}
	{"id":"2","error":{"code":"UNSUPPORTED_OPERATION","message":"..."}}

Methods without a dot are router-level: list, health, list-health and
disconnect.

The router never retries. At most one upstream call is made per dispatch.
*/
package router
