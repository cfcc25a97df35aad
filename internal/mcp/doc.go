// Copyright 2025 Tom Barlow
//
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
Package mcp connects pipeline tool steps to Model Context Protocol providers.

Providers are declared in the workspace and reached over stdio (a spawned
process) or streamable HTTP. Tool steps address them with shop "mcp":

	providers:
	  search:
	    transport: http
	    url: https://search.example.com/mcp
	    headers:
	      Authorization: Bearer ${SEARCH_TOKEN}
	    timeout: 20s
	    rate_limit: 5
	    tools: ["web_*"]
	  files:
	    transport: stdio
	    command: npx
	    args: ["-y", "@modelcontextprotocol/server-filesystem", "/data"]

	pipelines:
	  research:
	    steps:
	      - name: lookup
	        shop: mcp
	        provider: search
	        tool: web_search
	        params:
	          query: "{{ input.question }}"

# Connections

The Manager connects each provider on first use, sends the initialize
request and caches the tool list:

	mgr := mcp.NewManager(mcp.ManagerConfig{
	    Providers: settings.Providers,
	    Logger:    logger,
	})
	defer mgr.Close()

	provider, err := mgr.Provider(ctx, "search")

Connection failures are *errors.ResolutionError values of kind "provider",
so a pipeline can catch them like any other resolution failure.

# Tool Invocation

	ok, _ := provider.HasTool(ctx, "web_search")
	result, err := provider.CallTool(ctx, "web_search", map[string]any{
	    "query": "model context protocol",
	})

HasTool is false for tools the server does not list and for tools outside
the provider's allowlist. CallTool waits on the provider's rate limiter and
applies its timeout. Structured content is returned as is; text content is
decoded as JSON when it parses and returned as a string otherwise. A result
the server flags as an error becomes an *errors.ExecutionError.
*/
package mcp
