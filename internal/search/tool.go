package search

import (
	"context"

	"github.com/santosobot/santoso/internal/tools"
)

type toolArgs struct {
	Query    string `json:"query" jsonschema_description:"The search query."`
	Count    int    `json:"count,omitempty" jsonschema_description:"Number of results (1-10). Default 5."`
	Language string `json:"language,omitempty" jsonschema_description:"ISO 639-1 language code for results."`
	Provider string `json:"provider,omitempty" jsonschema_description:"Search provider to use. Omit for default."`
}

// Tool returns the web_search tool. With no provider registered it
// reports itself unavailable instead of failing at startup.
func Tool(mgr *Manager) tools.Tool {
	return tools.Typed("web_search", "Search the web. Returns titles, URLs and snippets.",
		func(ctx context.Context, a toolArgs) (string, error) {
			if !mgr.Configured() {
				return "", &tools.ErrToolUnavailable{ToolName: "web_search", Reason: "no search provider configured"}
			}
			provider := a.Provider
			if provider == "" {
				provider = mgr.Primary()
			}
			results, err := mgr.SearchWith(ctx, provider, a.Query, Options{Count: a.Count, Language: a.Language})
			if err != nil {
				return "", err
			}
			return FormatResults(a.Query, results), nil
		})
}
