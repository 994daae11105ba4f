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
Package github provides a GitHub connector over the REST API.

Resource ids have the form owner/repo/path; owner/repo alone names the
repository root. Search and recent listings return repositories, folder
queries list directory contents and getContext returns decoded file text.

	gh.search        {"query": "router", "options": {"limit": 5}}
	gh.fetch         {"type": "folder", "folderId": "octocat/hello/docs"}
	gh.getContext    {"resourceId": "octocat/hello/README.md"}
	gh.listRepositories {"visibility": "private"}

Users connect with the OAuth web flow (repo and read:user scopes).
base_url points the connector at GitHub Enterprise Server.
*/
package github
