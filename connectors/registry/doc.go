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
Package registry holds the single authoritative mapping from connector id to
descriptor, instance, routable operation table and health state.

# Creating a Registry

In-memory:

	reg := registry.NewRegistry()

Mirroring descriptors and health transitions into PostgreSQL:

	storage, err := registry.NewPostgreSQLStorage(databaseURL)
	if err != nil {
	    log.Fatal(err)
	}
	reg := registry.NewRegistryWithStorage(storage)

Storage failures are logged and never fail registration.

# Registering Connectors

	err := reg.Register(filesystem.NewConnector("docs"))

Registration builds the connector's operation table. Lifecycle operations
(health, initialize, authenticate, cleanup, and authorizeUrl for OAuth
connectors) are always routable. Data operations are routable only when
advertised in the descriptor's capabilities. Advertising a capability with no
handler fails with base.KindRegistration; a duplicate id fails with
base.KindDuplicateConnector and leaves the registry unchanged.

# Lookup

	conn, err := reg.Get("docs")                 // KindUnknownConnector when absent
	h, ok, err := reg.Handler("docs", "search")  // ok=false when not routable
	ids := reg.ListByCapability("search")        // registration order

# Health

Every connector starts UNKNOWN. SetHealth records a probe outcome and moves
the connector to HEALTHY or UNHEALTHY; Snapshot returns all records.

# Removal

Unregister hides the entry, runs the connector's Cleanup and only then
removes it. CleanupAll does the same for every connector on shutdown.
*/
package registry
