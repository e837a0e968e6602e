package fetch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santosobot/santoso/internal/tools"
)

type toolArgs struct {
	URL      string `json:"url" jsonschema_description:"URL to fetch. Only http and https are allowed."`
	MaxChars int    `json:"max_chars,omitempty" jsonschema_description:"Maximum characters of extracted text to return."`
}

// Tool returns the web_fetch tool backed by f. The result is JSON so
// the model sees title, status and truncation alongside the text.
func Tool(f *Fetcher) tools.Tool {
	return tools.Typed("web_fetch", "Fetch a web page and return its readable text content.",
		func(ctx context.Context, a toolArgs) (string, error) {
			if a.URL == "" {
				return "", fmt.Errorf("web_fetch: url is required")
			}
			result, err := f.Fetch(ctx, a.URL, a.MaxChars)
			if err != nil {
				return "", err
			}
			out, err := json.Marshal(result)
			if err != nil {
				return fmt.Sprintf("Title: %s\n\n%s", result.Title, result.Content), nil
			}
			return string(out), nil
		})
}
