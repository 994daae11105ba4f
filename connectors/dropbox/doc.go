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
Package dropbox provides a Dropbox connector over the v2 HTTP API.

Resource ids are Dropbox paths ("/Docs/notes.md") or file ids ("id:...");
the empty id names the root. Folder queries call files/list_folder, search
calls files/search_v2, recent listings walk the tree recursively and
getContext downloads from the content endpoint.

	files.search     {"query": "budget", "options": {"limit": 5}}
	files.fetch      {"type": "folder", "folderId": "/Docs"}
	files.getContext {"resourceId": "id:a4ayc_80_OEAAAAAAAAAXw"}

Users connect with the OAuth code flow requesting offline access so a
refresh token is issued. api_url and content_url override the endpoints.
*/
package dropbox
