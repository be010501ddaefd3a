package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	// Newlines are optional: models sometimes emit ```json{...}```.
	codeFenceWholeRegex = regexp.MustCompile(`(?s)^` + "`" + `{3}(?:json|javascript|js)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}\s*$`)
	codeFenceAnyRegex   = regexp.MustCompile(`(?s)` + "`" + `{3}(?:json|javascript|js)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}`)

	trailingCommaRegex     = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRegex       = regexp.MustCompile(`([{,]\s*)([a-zA-Z_$][a-zA-Z0-9_$]*)\s*:`)
	singleLineCommentRegex = regexp.MustCompile(`(?m)^\s*//.*$`)
	multiLineCommentRegex  = regexp.MustCompile(`(?s)/\*.*?\*/`)

	objectRegex = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	arrayRegex  = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
)

// DefaultMaxInputSize bounds the text Parse will look at.
const DefaultMaxInputSize = 1 << 20

// ParseResult is the outcome of Parse.
type ParseResult[T any] struct {
	Success      bool
	Data         T
	Error        string
	OriginalText string
}

// ParseOptions configures Parse.
type ParseOptions struct {
	Context      string // prefix for error messages
	MaxInputSize int    // 0 = DefaultMaxInputSize
}

// Parse decodes model output into T, tolerating the usual formatting noise:
// code fences, trailing commas, comments, unquoted keys and prose around the JSON.
// Strategies are tried in order and the first that decodes wins.
func Parse[T any](text string, opts ...ParseOptions) ParseResult[T] {
	var o ParseOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.MaxInputSize <= 0 {
		o.MaxInputSize = DefaultMaxInputSize
	}

	if len(text) > o.MaxInputSize {
		return parseError[T](fmt.Sprintf("input exceeds size limit (%d > %d bytes)", len(text), o.MaxInputSize),
			truncate(text, 1000), o.Context)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return parseError[T]("empty input", text, o.Context)
	}

	data, err := decode[T](trimmed)
	if err == nil {
		return ParseResult[T]{Success: true, Data: data, OriginalText: text}
	}
	log.Debug().Err(err).Str("context", o.Context).Str("preview", truncate(text, 100)).
		Msg("direct JSON parse failed, trying cleanup")

	unfenced := removeCodeFences(trimmed)
	if unfenced != trimmed {
		if data, err := decode[T](unfenced); err == nil {
			return ParseResult[T]{Success: true, Data: data, OriginalText: text}
		}
	}

	cleaned := cleanupJSON(unfenced)
	if data, err := decode[T](cleaned); err == nil {
		return ParseResult[T]{Success: true, Data: data, OriginalText: text}
	}

	if extracted := extractJSON(cleaned); extracted != "" {
		if data, err := decode[T](extracted); err == nil {
			return ParseResult[T]{Success: true, Data: data, OriginalText: text}
		}
		if data, err := decode[T](cleanupJSON(extracted)); err == nil {
			return ParseResult[T]{Success: true, Data: data, OriginalText: text}
		}
	}

	return parseError[T]("all JSON parsing strategies failed", text, o.Context)
}

func decode[T any](text string) (T, error) {
	var out T
	err := json.Unmarshal([]byte(text), &out)
	return out, err
}

func removeCodeFences(text string) string {
	cleaned := codeFenceWholeRegex.ReplaceAllString(text, "$1")
	if cleaned == text {
		if m := codeFenceAnyRegex.FindStringSubmatch(text); m != nil {
			cleaned = m[1]
		}
	}
	if strings.HasPrefix(cleaned, "`") && strings.HasSuffix(cleaned, "`") {
		cleaned = strings.Trim(cleaned, "`")
	}
	return strings.TrimSpace(cleaned)
}

// cleanupJSON fixes trailing commas, unquoted keys and comments.
// Single quotes are left alone since they occur inside valid strings.
func cleanupJSON(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = trailingCommaRegex.ReplaceAllString(cleaned, "$1")
	cleaned = unquotedKeyRegex.ReplaceAllString(cleaned, `$1"$2":`)
	cleaned = singleLineCommentRegex.ReplaceAllString(cleaned, "")
	cleaned = multiLineCommentRegex.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// extractJSON pulls the outermost object or array out of mixed content.
// The leading character decides which is tried first.
func extractJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "[") {
		if m := arrayRegex.FindString(text); m != "" {
			return m
		}
	}
	if m := objectRegex.FindString(text); m != "" {
		return m
	}
	return arrayRegex.FindString(text)
}

func parseError[T any](message, text, context string) ParseResult[T] {
	if context != "" {
		message = context + ": " + message
	}
	return ParseResult[T]{Error: message, OriginalText: text}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
