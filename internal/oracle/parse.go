package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// extractJSON returns the first JSON object or array embedded in a model
// reply, which may be wrapped in prose or code fences.
func extractJSON(response string) (string, error) {
	objStart := strings.Index(response, "{")
	arrStart := strings.Index(response, "[")

	start := objStart
	end := strings.LastIndex(response, "}")
	if objStart == -1 || (arrStart != -1 && arrStart < objStart) {
		start = arrStart
		end = strings.LastIndex(response, "]")
	}

	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON found in response: %s", truncate(response, 200))
	}
	return response[start : end+1], nil
}

// unmarshalLenient parses JSON into target, repairing malformed output
// (trailing commas, unquoted keys, truncated strings) before giving up.
func unmarshalLenient(jsonStr string, target any) error {
	if err := json.Unmarshal([]byte(jsonStr), target); err == nil {
		return nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(jsonStr)
	if repairErr != nil {
		return fmt.Errorf("repair JSON: %w", repairErr)
	}
	if err := json.Unmarshal([]byte(repaired), target); err != nil {
		return fmt.Errorf("parse repaired JSON: %w (input: %s)", err, truncate(jsonStr, 200))
	}
	return nil
}

// parseInto extracts and parses the JSON payload of a reply into target.
func parseInto(response string, target any) error {
	jsonStr, err := extractJSON(response)
	if err != nil {
		return err
	}
	return unmarshalLenient(jsonStr, target)
}

// normalizeComplexity maps loose oracle spellings onto the known enum,
// defaulting to medium for anything unrecognized.
func normalizeComplexity(raw string) AssessedComplexity {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(raw, "-", "_"))) {
	case "too_simple", "toosimple", "trivial":
		return ComplexityTooSimple
	case "simple", "low":
		return ComplexitySimple
	case "medium", "moderate":
		return ComplexityMedium
	case "complex", "high":
		return ComplexityComplex
	default:
		return ComplexityMedium
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
