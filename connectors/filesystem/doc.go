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

// Package filesystem provides a connector over a local directory tree.
//
// Resource ids are slash-separated paths relative to the configured root:
//
//	connectors:
//	  docs:
//	    type: filesystem
//	    options:
//	      root: /srv/docs
//
// Hidden entries (names starting with ".") are never listed or searched.
// Any id that resolves outside the root is reported as not found.
package filesystem
