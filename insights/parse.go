package insights

import (
	"encoding/json"
	"strings"

	"authrax/pkg/authrax"
)

// parseInsights decodes an LLM reply holding either a bare array of insights
// or an {"insights": [...]} object, optionally inside a markdown fence.
func parseInsights(text string) ([]authrax.InsightItem, error) {
	body := authrax.StripCodeFence(text)

	var items []authrax.InsightItem
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		var wrapped struct {
			Insights []authrax.InsightItem `json:"insights"`
		}
		if werr := json.Unmarshal([]byte(body), &wrapped); werr != nil {
			start, end := strings.Index(body, "["), strings.LastIndex(body, "]")
			if start < 0 || end <= start {
				return nil, authrax.E(authrax.MalformedResponse, "insights.parse", err)
			}
			if aerr := json.Unmarshal([]byte(body[start:end+1]), &items); aerr != nil {
				return nil, authrax.E(authrax.MalformedResponse, "insights.parse", aerr)
			}
		} else {
			items = wrapped.Insights
		}
	}

	out := make([]authrax.InsightItem, 0, maxInsights)
	for _, it := range items {
		it.Title = strings.TrimSpace(it.Title)
		it.Content = strings.TrimSpace(it.Content)
		if it.Title == "" || it.Content == "" {
			continue
		}
		if it.SourceType == "" {
			it.SourceType = "trend"
		}
		out = append(out, it)
		if len(out) == maxInsights {
			break
		}
	}
	return out, nil
}
