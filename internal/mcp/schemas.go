package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexRepositoryTool returns the tool definition for index_repository
func indexRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_repository",
		Description: "Index the Terraform and PowerShell files of a git repository, or of every repository below a directory",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to a repository root or a directory containing repositories",
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, reindex every file regardless of modification time",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// searchFilesTool returns the tool definition for search_files
func searchFilesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_files",
		Description: "Find indexed files containing a piece of text (case-insensitive, at least 3 characters)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Text to search for",
					"minLength":   3,
				},
				"repo_path": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to a repository or to repositories below a directory",
				},
				"file_type": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to one file type",
					"enum":        []string{"terraform", "powershell"},
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-500)",
					"default":     DefaultSearchLimit,
					"minimum":     1,
					"maximum":     MaxSearchLimit,
				},
				"verify": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, drop files that contain every trigram of the query but not the literal text",
					"default":     false,
				},
			},
			Required: []string{"query"},
		},
	}
}

// syncRepositoriesTool returns the tool definition for sync_repositories
func syncRepositoriesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "sync_repositories",
		Description: "Pull every repository below the configured roots (or the given path), honoring the cooldown and blacklist",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute directory to scan instead of the configured roots",
				},
				"reindex": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, reindex repositories that pulled successfully",
					"default":     false,
				},
			},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index statistics and repository sync state",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"include_repos": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, list every repository in the sync cache",
					"default":     false,
				},
			},
		},
	}
}
