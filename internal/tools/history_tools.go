package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/santosobot/santoso/internal/memory"
)

// HistorySearcher finds archived conversation blocks.
type HistorySearcher interface {
	Search(ctx context.Context, query string, limit int) ([]memory.Record, error)
}

type searchHistoryArgs struct {
	Query string `json:"query" jsonschema_description:"Text to look for in archived conversation history."`
	Limit int    `json:"limit,omitempty" jsonschema_description:"Maximum number of blocks to return (default 5)."`
}

// NewSearchHistoryTool returns search_history over the archive.
func NewSearchHistoryTool(s HistorySearcher) Tool {
	return Typed("search_history", "Search older conversation history that has been archived out of the active context.",
		func(ctx context.Context, a searchHistoryArgs) (string, error) {
			if strings.TrimSpace(a.Query) == "" {
				return "", fmt.Errorf("query is required")
			}
			limit := a.Limit
			if limit <= 0 {
				limit = 5
			}
			records, err := s.Search(ctx, a.Query, min(limit, 50))
			if err != nil {
				return "", err
			}
			if len(records) == 0 {
				return fmt.Sprintf("No archived history matches %q.", a.Query), nil
			}

			var b strings.Builder
			for i, r := range records {
				if i > 0 {
					b.WriteString("\n\n")
				}
				fmt.Fprintf(&b, "### %s (%s)\n%s", r.CreatedAt.Format("2006-01-02 15:04"), r.Session, r.Content)
			}
			return b.String(), nil
		})
}
