package handler

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	audit "worktrail/internal/audit"
	dErrors "worktrail/pkg/domain-errors"
)

// parseFilter translates list query parameters into a store filter. Unknown
// parameters are ignored; malformed values are client errors, not silent
// defaults, so a typo never quietly returns the unfiltered trail.
func parseFilter(query url.Values) (audit.Filter, error) {
	filter := audit.Filter{
		EntityType: strings.TrimSpace(query.Get("entityType")),
		EntityID:   strings.TrimSpace(query.Get("entityId")),
		EventType:  strings.TrimSpace(query.Get("eventType")),
	}

	from, err := parseTime(query.Get("from"), "from")
	if err != nil {
		return audit.Filter{}, err
	}
	filter.From = from

	to, err := parseTime(query.Get("to"), "to")
	if err != nil {
		return audit.Filter{}, err
	}
	filter.To = to

	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return audit.Filter{}, dErrors.New(dErrors.CodeInvalidInput, "to must not be before from")
	}

	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return audit.Filter{}, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer")
		}
		filter.Limit = limit
	}

	return filter, nil
}

func parseTime(raw, name string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeInvalidInput, name+" must be an RFC3339 timestamp")
	}
	return t.UTC(), nil
}
