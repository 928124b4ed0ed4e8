package tool

import "strings"

var namespacePrefixes = []string{
	"functions.",
	"function.",
	"tools.",
	"tool.",
	"assistant.",
	"recipient_name.",
}

func stripWrappingQuotes(value string) string {
	return strings.Trim(strings.TrimSpace(value), "\"'`")
}

func stripNamespacePrefix(value string) string {
	for _, prefix := range namespacePrefixes {
		if stripped, ok := strings.CutPrefix(value, prefix); ok {
			return stripped
		}
	}
	return value
}

// CanonicalName normalizes a tool name to its canonical lowercase-underscore
// form: quotes and namespace prefixes stripped, spaces and dashes folded to
// underscores. "Read file" resolves to "read_file".
func CanonicalName(name string) string {
	stripped := stripNamespacePrefix(stripWrappingQuotes(name))
	lowered := strings.ToLower(strings.TrimSpace(stripped))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(lowered)
}

func pushCandidate(candidates []string, value string) []string {
	trimmed := stripWrappingQuotes(value)
	if trimmed == "" {
		return candidates
	}
	add := func(list []string, v string) []string {
		for _, existing := range list {
			if existing == v {
				return list
			}
		}
		return append(list, v)
	}
	candidates = add(candidates, trimmed)

	stripped := stripNamespacePrefix(trimmed)
	if stripped != trimmed {
		candidates = add(candidates, stripped)
	}

	underscored := strings.NewReplacer(" ", "_", "-", "_").
		Replace(strings.ToLower(strings.TrimSpace(stripped)))
	if underscored != "" {
		candidates = add(candidates, underscored)
	}
	return candidates
}

// NameCandidates expands a model-emitted tool name into lookup candidates in
// priority order. Handles wrapping quotes, namespace prefixes, the
// "<|channel|>" suffix convention, and colon-namespaced names.
func NameCandidates(name string) []string {
	var candidates []string
	raw := stripWrappingQuotes(name)
	if raw == "" {
		return candidates
	}

	candidates = pushCandidate(candidates, raw)

	if lhs, rhs, ok := strings.Cut(raw, "<|channel|>"); ok {
		candidates = pushCandidate(candidates, rhs)
		candidates = pushCandidate(candidates, lhs)
	}

	if idx := strings.LastIndex(raw, ":"); idx >= 0 && idx < len(raw)-1 {
		candidates = pushCandidate(candidates, raw[idx+1:])
	}

	return candidates
}
