package builder

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"worktrail/internal/event"
)

// UnknownEntityType is assigned when the event type carries no usable name.
const UnknownEntityType = "Unknown"

// entityRule maps an event type prefix to the entity it mutates. Rules are
// ordered and the first match wins; compound prefixes come first so that
// "leave.request.approved" resolves to LeaveRequest rather than Leave.
type entityRule struct {
	prefix string
	entity string
}

var entityRules = []entityRule{
	{prefix: "leave.request.", entity: "LeaveRequest"},
	{prefix: "project.member.", entity: "Project"},
}

// EntityType derives the mutated entity's type from the event type. The
// mapping is total: every input, including the empty string, produces a
// non-empty name.
func EntityType(eventType string) string {
	for _, rule := range entityRules {
		if strings.HasPrefix(eventType, rule.prefix) {
			return rule.entity
		}
	}

	first, _, _ := strings.Cut(eventType, ".")
	if first == "" {
		return UnknownEntityType
	}
	return capitalize(first)
}

// EntityID extracts the mutated entity's identifier from the event payload.
// Candidate keys are tried in order and the first present key wins, even when
// its value is not a usable scalar; in that case the id is empty. An absent
// id does not fail record construction.
func EntityID(entityType string, data event.Value) string {
	candidates := []string{
		entityType + "Id",
		strings.ToLower(entityType + "Id"),
		"Id",
		"id",
	}
	for _, key := range candidates {
		if value, ok := data.Field(key); ok {
			text, _ := value.Text()
			return text
		}
	}
	return ""
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
