package core

import (
	"encoding/json"
	"strings"
)

const FallbackAnswer = "No answer found."

// ParsedResponse is the structured reply extracted from model output.
type ParsedResponse struct {
	Answer          string   `json:"answer"`
	Recommendations []string `json:"recommendations"`
}

func fallbackResponse() ParsedResponse {
	return ParsedResponse{Answer: FallbackAnswer, Recommendations: []string{}}
}

// ParseResponse extracts {answer, recommendations} from raw model output.
// raw may be a string (optionally wrapped in a ```json fence), bytes, a
// decoded JSON object or a ParsedResponse. Anything without a non-empty
// string answer yields the fallback; it never fails.
func ParseResponse(raw any) ParsedResponse {
	switch v := raw.(type) {
	case nil:
		return fallbackResponse()
	case ParsedResponse:
		return normalize(v)
	case *ParsedResponse:
		if v == nil {
			return fallbackResponse()
		}
		return normalize(*v)
	case map[string]any:
		return fromObject(v)
	case string:
		return parseText(v)
	case []byte:
		return parseText(string(v))
	default:
		return fallbackResponse()
	}
}

func normalize(p ParsedResponse) ParsedResponse {
	if p.Answer == "" {
		return fallbackResponse()
	}
	if p.Recommendations == nil {
		p.Recommendations = []string{}
	}
	return p
}

func parseText(s string) ParsedResponse {
	var obj map[string]any
	if err := json.Unmarshal([]byte(stripFence(s)), &obj); err != nil {
		return fallbackResponse()
	}
	return fromObject(obj)
}

// stripFence removes a leading ```json or ``` marker and a trailing ```.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	for _, open := range []string{"```json", "```JSON", "```"} {
		if strings.HasPrefix(s, open) {
			s = s[len(open):]
			break
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func fromObject(obj map[string]any) ParsedResponse {
	answer, ok := obj["answer"].(string)
	if !ok || answer == "" {
		return fallbackResponse()
	}
	out := ParsedResponse{Answer: answer, Recommendations: []string{}}
	switch list := obj["recommendations"].(type) {
	case []string:
		out.Recommendations = append(out.Recommendations, list...)
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok {
				out.Recommendations = append(out.Recommendations, s)
			}
		}
	}
	return out
}
