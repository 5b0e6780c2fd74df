package gateway

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

const defaultMaxContentLength = 100_000

// ProviderShape selects which field paths Normalize tries, in order, before
// falling back to the generic set.
type ProviderShape string

const (
	ShapeCerebras ProviderShape = "cerebras"
	ShapeOpenAI   ProviderShape = "openai"
	ShapeGeneric  ProviderShape = "generic"
)

// NormalizedResponse is the output of the Response Normalizer pipeline.
type NormalizedResponse struct {
	Content  string
	Warnings []string
	Raw      any
}

var (
	cerebrasPaths = []string{"content", "choices.0.message.content", "choices.0.delta.content", "choices.0.text"}
	openAIPaths   = []string{"choices.0.message.content", "choices.0.text", "data"}
	genericFields = []string{"content", "text", "output", "result", "data", "message", "response", "generated_text"}
)

// Normalize runs the four-stage pipeline (Normalize/Extract/Validate/
// Sanitize) over a raw upstream payload, applying fallback strategies when
// a stage cannot confidently proceed.
func Normalize(payload any, shape ProviderShape, jsonShaped bool, maxContentLength int) (NormalizedResponse, error) {
	if maxContentLength <= 0 {
		maxContentLength = defaultMaxContentLength
	}

	raw, warnings, err := normalizeStage(payload, shape)
	if err != nil {
		raw, err = rawExtraction(payload)
		if err != nil {
			return NormalizedResponse{}, fmt.Errorf("gateway: normalize: %w", err)
		}
		warnings = append(warnings, "used raw_extraction fallback")
	}

	extracted, extractWarnings := extractStage(raw, jsonShaped)
	warnings = append(warnings, extractWarnings...)

	validated, validateWarnings, err := validateStage(extracted, jsonShaped)
	if err != nil {
		content, ok := partialContent(raw, payload)
		if !ok {
			return NormalizedResponse{}, fmt.Errorf("gateway: normalize: %w", err)
		}
		validated = content
		warnings = append(warnings, "used partial_content fallback")
	}
	warnings = append(warnings, validateWarnings...)

	sanitized := sanitizeStage(validated, maxContentLength)

	return NormalizedResponse{Content: sanitized, Warnings: warnings, Raw: payload}, nil
}

// normalizeStage converts the upstream payload to a string using
// provider-shape-specific field paths.
func normalizeStage(payload any, shape ProviderShape) (string, []string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		if s, ok := payload.(string); ok {
			return s, nil, nil
		}
		return "", nil, fmt.Errorf("payload is not JSON-encodable: %w", err)
	}
	doc := string(encoded)

	var paths []string
	switch shape {
	case ShapeCerebras:
		paths = cerebrasPaths
	case ShapeOpenAI:
		paths = openAIPaths
	default:
		paths = nil
	}

	for _, p := range paths {
		if r := gjson.Get(doc, p); r.Exists() && r.Type == gjson.String {
			return r.String(), nil, nil
		}
	}

	for _, field := range genericFields {
		if r := gjson.Get(doc, field); r.Exists() && r.Type == gjson.String {
			return r.String(), nil, nil
		}
		if r := gjson.Get(doc, "choices.0."+field); r.Exists() && r.Type == gjson.String {
			return r.String(), nil, nil
		}
	}

	return doc, []string{"no known field path matched; used whole-object encoding"}, nil
}

// extractStage attempts, in order: direct JSON parse, outermost balanced
// object extraction, syntactic cleanup + reparse, or passthrough of raw.
func extractStage(raw string, jsonShaped bool) (string, []string) {
	if !jsonShaped {
		return raw, nil
	}

	trimmed := strings.TrimSpace(raw)
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}

	if block, ok := extractBalancedObject(trimmed); ok {
		if json.Valid([]byte(block)) {
			return block, []string{"extracted balanced object from surrounding text"}
		}
		cleaned := cleanupJSONSyntax(block)
		if json.Valid([]byte(cleaned)) {
			return cleaned, []string{"recovered JSON via syntactic cleanup"}
		}
	}

	cleaned := cleanupJSONSyntax(trimmed)
	if json.Valid([]byte(cleaned)) {
		return cleaned, []string{"recovered JSON via syntactic cleanup"}
	}

	return raw, []string{"kept raw content: could not parse as JSON"}
}

// extractBalancedObject finds the first outermost balanced {...} block.
func extractBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// inside a string literal, braces don't count
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

var (
	jsonLineCommentRe  = regexp.MustCompile(`//[^\n]*`)
	jsonBlockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	jsonTrailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

func cleanupJSONSyntax(s string) string {
	s = jsonBlockCommentRe.ReplaceAllString(s, "")
	s = jsonLineCommentRe.ReplaceAllString(s, "")
	s = jsonTrailingCommaRe.ReplaceAllString(s, "$1")
	s = strings.ReplaceAll(s, "'", `"`)
	return s
}

// validateStage ensures non-empty trimmed content; for JSON-shaped
// operations it attempts a parse and attaches a warning rather than
// rejecting on failure.
func validateStage(content string, jsonShaped bool) (string, []string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", nil, fmt.Errorf("normalized content is empty")
	}

	var warnings []string
	if jsonShaped && !json.Valid([]byte(trimmed)) {
		warnings = append(warnings, "content did not validate as JSON")
	}
	return trimmed, warnings, nil
}

var (
	scriptTagRe   = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	jsURIRe       = regexp.MustCompile(`(?i)javascript:`)
	onHandlerRe   = regexp.MustCompile(`(?i)\son\w+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	blankRunsRe   = regexp.MustCompile(`\n{3,}`)
)

// sanitizeStage strips script content and event-handler-style injection
// vectors, normalizes line endings, collapses blank-line runs, and
// truncates to maxContentLength. This stage intentionally uses only
// stdlib regexp/strings: the narrow script/javascript:/on*= stripping
// contract here doesn't match what any HTML-sanitizer dependency in the
// reference set is built for.
func sanitizeStage(content string, maxContentLength int) string {
	s := strings.ReplaceAll(content, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	s = scriptTagRe.ReplaceAllString(s, "")
	s = jsURIRe.ReplaceAllString(s, "")
	s = onHandlerRe.ReplaceAllString(s, "")

	s = blankRunsRe.ReplaceAllString(s, "\n\n")

	if len(s) > maxContentLength {
		s = s[:maxContentLength]
	}
	return s
}

// rawExtraction is the first fallback strategy: find any string reachable
// within depth 3 of the payload.
func rawExtraction(payload any) (string, error) {
	if s, ok := findStringWithinDepth(reflect.ValueOf(payload), 3); ok {
		return s, nil
	}
	return "", fmt.Errorf("no string field found within depth 3")
}

// partialContent is the last-resort fallback: accept raw if it is not blank,
// else the first string found within depth 6 of the payload if that is not
// blank; the caller attaches a warning.
func partialContent(raw string, payload any) (string, bool) {
	if strings.TrimSpace(raw) != "" {
		return raw, true
	}
	if s, ok := findStringWithinDepth(reflect.ValueOf(payload), 6); ok && strings.TrimSpace(s) != "" {
		return s, true
	}
	return "", false
}

func findStringWithinDepth(v reflect.Value, depth int) (string, bool) {
	if depth < 0 || !v.IsValid() {
		return "", false
	}
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return "", false
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.String:
		return v.String(), true
	case reflect.Map:
		for _, key := range v.MapKeys() {
			if s, ok := findStringWithinDepth(v.MapIndex(key), depth-1); ok {
				return s, true
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if s, ok := findStringWithinDepth(v.Index(i), depth-1); ok {
				return s, true
			}
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !v.Field(i).CanInterface() {
				continue
			}
			if s, ok := findStringWithinDepth(v.Field(i), depth-1); ok {
				return s, true
			}
		}
	}
	return "", false
}
