package selector

import (
	"errors"
	"strings"

	"github.com/bloopai/model-router/internal/catalog"
	"github.com/bloopai/model-router/internal/provider"
)

var ErrNoProviders = errors.New("no providers configured")

// Selection is the preferred (provider, model) pair for a request.
type Selection struct {
	Provider string
	Model    string
}

// Select picks the preferred pair for a request. An explicit model
// pins its provider directly; otherwise catalog entries are scored
// against the request. Selection is pure and deterministic: no
// network calls, ties broken by speed tier and then catalog order.
func Select(req *provider.Request, cat *catalog.Catalog) (Selection, error) {
	if cat.Len() == 0 {
		return Selection{}, ErrNoProviders
	}

	if req.Model != "" {
		if name := providerForModel(req.Model); name != "" {
			if _, ok := cat.ByProvider(name); ok {
				return Selection{Provider: name, Model: req.Model}, nil
			}
		}
	}

	contextTokens := estimateContextTokens(req)
	content := lowerContent(req)
	wantsVision := requiresVision(content)
	wantsSpeed := requiresSpeed(content)
	wantsQuality := requiresQuality(content)

	entries := cat.Entries()
	best := 0
	bestScore := score(entries[0].Capabilities, contextTokens, wantsVision, wantsSpeed, wantsQuality)
	for i := 1; i < len(entries); i++ {
		s := score(entries[i].Capabilities, contextTokens, wantsVision, wantsSpeed, wantsQuality)
		if s > bestScore || (s == bestScore && speedRank(entries[i].Capabilities.Speed) > speedRank(entries[best].Capabilities.Speed)) {
			best = i
			bestScore = s
		}
	}

	return Selection{Provider: entries[best].Provider, Model: entries[best].Model}, nil
}

func score(caps catalog.Capabilities, contextTokens int, wantsVision, wantsSpeed, wantsQuality bool) float64 {
	var s float64

	if caps.MaxContextTokens >= contextTokens {
		s += 10
	} else {
		s -= 20
	}

	if wantsVision && caps.Vision {
		s += 5
	}

	if wantsSpeed {
		switch caps.Speed {
		case catalog.SpeedFast:
			s += 5
		case catalog.SpeedMedium:
			s += 2
		}
	}

	if wantsQuality {
		switch caps.Quality {
		case catalog.QualityHigh:
			s += 5
		case catalog.QualityMedium:
			s += 2
		}
	}

	avgCost := (caps.CostPer1KTokens.Input + caps.CostPer1KTokens.Output) / 2
	if avgCost > 0 {
		s += (0.01 / avgCost) * 2
	}

	return s
}

func speedRank(s catalog.Speed) int {
	switch s {
	case catalog.SpeedFast:
		return 2
	case catalog.SpeedMedium:
		return 1
	default:
		return 0
	}
}

// providerForModel maps a model identifier to its provider by name
// prefix. Unknown prefixes fall back to automatic selection.
func providerForModel(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt") || strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "openai"):
		return "openai"
	case strings.HasPrefix(m, "claude") || strings.HasPrefix(m, "anthropic"):
		return "anthropic"
	case strings.HasPrefix(m, "gemini") || strings.HasPrefix(m, "google"):
		return "gemini"
	default:
		return ""
	}
}

// estimateContextTokens approximates the prompt size at roughly four
// characters per token.
func estimateContextTokens(req *provider.Request) int {
	var chars int
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	return (chars + 3) / 4
}

func lowerContent(req *provider.Request) string {
	var b strings.Builder
	for _, m := range req.Messages {
		b.WriteString(strings.ToLower(m.Content))
		b.WriteByte(' ')
	}
	return b.String()
}

func requiresVision(content string) bool {
	for _, hint := range []string{"image", "screenshot", "visual", "diagram"} {
		if strings.Contains(content, hint) {
			return true
		}
	}
	return false
}

func requiresSpeed(content string) bool {
	for _, hint := range []string{"explain", "summarize", "translate", "format"} {
		if strings.Contains(content, hint) {
			return true
		}
	}
	return false
}

func requiresQuality(content string) bool {
	for _, hint := range []string{"architecture", "design", "complex", "critical", "production", "security"} {
		if strings.Contains(content, hint) {
			return true
		}
	}
	return false
}
