package event

import (
	"fmt"
	"regexp"
	"strings"
)

// NormalizeRoutingKey derives the routing key from an event type: trimmed
// and lowercased, dot-delimited segments preserved. The mapping is a stable
// string transformation so the same event type always routes identically.
func NormalizeRoutingKey(eventType string) string {
	return strings.ToLower(strings.TrimSpace(eventType))
}

// Topic returns the broker topic carrying the given routing key.
func Topic(prefix, routingKey string) string {
	return prefix + routingKey
}

// RoutingKeyFromTopic recovers the routing key from a topic name.
func RoutingKeyFromTopic(prefix, topic string) string {
	return strings.TrimPrefix(topic, prefix)
}

// Binding is a compiled routing-key binding pattern.
//
// Patterns are dot-delimited. A `*` segment matches exactly one segment, a
// `#` segment matches zero or more segments, and any other segment matches
// itself literally. `#` alone matches every routing key.
type Binding struct {
	pattern string
	core    string // regex snippet without anchors
	match   *regexp.Regexp
}

// CompileBinding validates and compiles a binding pattern. Patterns are
// matched case-insensitively by lowercasing at compile time, mirroring
// routing-key normalization.
func CompileBinding(pattern string) (Binding, error) {
	normalized := strings.ToLower(strings.TrimSpace(pattern))
	if normalized == "" {
		return Binding{}, fmt.Errorf("empty binding pattern")
	}

	for _, seg := range strings.Split(normalized, ".") {
		switch {
		case seg == "":
			return Binding{}, fmt.Errorf("binding pattern %q has an empty segment", pattern)
		case seg == "*" || seg == "#":
		case strings.ContainsAny(seg, "*#"):
			return Binding{}, fmt.Errorf("binding pattern %q: wildcards must be whole segments", pattern)
		}
	}

	core := translatePattern(normalized)
	return Binding{
		pattern: normalized,
		core:    core,
		match:   regexp.MustCompile("^" + core + "$"),
	}, nil
}

// String returns the normalized pattern.
func (b Binding) String() string { return b.pattern }

// Match reports whether the routing key matches the binding.
func (b Binding) Match(routingKey string) bool {
	if b.match == nil {
		return false
	}
	return b.match.MatchString(NormalizeRoutingKey(routingKey))
}

// TopicRegex returns a full-match regular expression selecting every topic
// under prefix whose routing key matches the binding. Consumers hand these
// to the broker subscription.
func (b Binding) TopicRegex(prefix string) string {
	return "^" + regexp.QuoteMeta(prefix) + b.core + "$"
}

// translatePattern converts a validated binding pattern into a regex
// snippet. `#` absorbs its neighboring dot so it can match zero segments:
// `a.#.b` must match `a.b`, and `a.#` must match `a`.
func translatePattern(pattern string) string {
	re := regexp.QuoteMeta(pattern)
	re = strings.ReplaceAll(re, `\*`, `[^.]+`)
	re = strings.ReplaceAll(re, `#\.`, `([^.]+\.)*`)
	re = strings.ReplaceAll(re, `\.#`, `(\.[^.]+)*`)
	re = strings.ReplaceAll(re, `#`, `[^.]+(\.[^.]+)*`)
	return re
}

// CompileBindings compiles each pattern, rejecting the first invalid one.
func CompileBindings(patterns []string) ([]Binding, error) {
	bindings := make([]Binding, 0, len(patterns))
	for _, p := range patterns {
		b, err := CompileBinding(p)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, nil
}
