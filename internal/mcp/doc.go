// Package mcp implements the Model Context Protocol (MCP) server for repodex.
//
// The server exposes four tools to MCP clients:
//   - index_repository: index the Terraform and PowerShell files of one or more checkouts
//   - search_files: trigram search over the indexed content
//   - sync_repositories: pull every discovered checkout, honoring cooldown and blacklist
//   - get_status: index statistics and repository sync state
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is started with:
//
//	repodex serve
//
// Stdout carries protocol messages only; logs go to stderr or the configured
// log file.
//
// # Tool: search_files
//
//	Request:
//	{
//	  "name": "search_files",
//	  "arguments": {
//	    "query": "azurerm_storage_account",
//	    "file_type": "terraform",
//	    "limit": 20
//	  }
//	}
//
//	Response:
//	{
//	  "query": "azurerm_storage_account",
//	  "total_results": 2,
//	  "results": [
//	    {
//	      "repo_path": "/home/me/src/infra",
//	      "file_path": "modules/storage/main.tf",
//	      "file_type": "terraform",
//	      "line": 12,
//	      "snippet": "resource \"azurerm_storage_account\" \"this\" {"
//	    }
//	  ]
//	}
//
// Queries shorter than three characters return no results and a
// "query_too_short" reason rather than an error.
//
// # State
//
// The database is opened for each tool call and closed before the call
// returns. The search result cache, the index lock and the sync guard live
// for the life of the server; the cache is purged whenever indexing changes
// the store. A second index or sync call issued while one is running fails
// with ErrorCodeIndexingInProgress or ErrorCodeSyncInProgress.
//
// # Error Codes
//
//   - -32602: Invalid parameters
//   - -32603: Internal error
//   - -32001: No git repositories found
//   - -32002: Indexing in progress
//   - -32003: Sync in progress
//   - -32004: Empty query
package mcp
