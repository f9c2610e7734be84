package adapter

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// settings is the string map stored on a provider row.
type settings map[string]string

func (s settings) str(key, fallback string) string {
	if v := strings.TrimSpace(s[key]); v != "" {
		return v
	}
	return fallback
}

func (s settings) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(s[key])); err == nil && d >= 0 {
		return d
	}
	return fallback
}

func (s settings) integer(key string, fallback int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(s[key])); err == nil {
		return n
	}
	return fallback
}

// prefixed returns every key under prefix with the prefix removed.
func (s settings) prefixed(prefix string) map[string]string {
	out := make(map[string]string)
	for k, v := range s {
		if strings.HasPrefix(k, prefix) {
			out[strings.TrimPrefix(k, prefix)] = v
		}
	}
	return out
}

// expand fills {number}, {type} and {carrier} placeholders. Values are
// query-escaped when escape is set.
func expand(tmpl string, req Request, escape bool) string {
	esc := func(v string) string {
		if escape {
			return url.QueryEscape(v)
		}
		return v
	}
	return strings.NewReplacer(
		"{number}", esc(req.TrackingNumber),
		"{type}", esc(string(req.Type)),
		"{carrier}", esc(req.CarrierHint),
	).Replace(tmpl)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04",
	"02-Jan-2006 15:04",
	"02 Jan 2006 15:04",
	"Jan 2, 2006 3:04 PM",
	"2006-01-02",
	"02/01/2006",
	"02-Jan-2006",
	"02 Jan 2006",
}

// parseTime accepts the formats providers commonly emit, plus unix seconds or
// milliseconds. layout, when set, is tried first.
func parseTime(raw, layout string) (time.Time, bool) {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, "\u00a0", " "))
	if raw == "" {
		return time.Time{}, false
	}
	if layout != "" {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, raw); err == nil {
			return t.UTC(), true
		}
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	return time.Time{}, false
}

func timePtr(raw, layout string) *time.Time {
	if t, ok := parseTime(raw, layout); ok {
		return &t
	}
	return nil
}
