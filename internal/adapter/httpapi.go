package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/noah-isme/tracking-engine/internal/resilience"
)

// HTTPAPI queries a JSON tracking API described entirely by provider settings:
//
//	url            request URL, supports {number} {type} {carrier}
//	method         GET (default) or POST
//	body           POST body template
//	header.<Name>  extra request headers, e.g. header.Authorization
//	path.<field>   dotted JSON path for carrier, status, origin, destination,
//	               vessel, voyage, etd, atd, eta, ata, events
//	event.<field>  path inside each event for timestamp, location, description, status
//	time_layout    Go layout tried before the built-in formats
//	not_found_path boolean JSON path that marks an unknown number
type HTTPAPI struct {
	id       string
	client   resilience.HTTPClient
	settings settings
}

var defaultPaths = map[string]string{
	"carrier":     "carrier",
	"status":      "status",
	"origin":      "origin",
	"destination": "destination",
	"vessel":      "vessel",
	"voyage":      "voyage",
	"etd":         "etd",
	"atd":         "atd",
	"eta":         "eta",
	"ata":         "ata",
	"events":      "events",
}

var defaultEventPaths = map[string]string{
	"timestamp":   "timestamp",
	"location":    "location",
	"description": "description",
	"status":      "status",
}

// NewHTTPAPI builds an API adapter for provider id.
func NewHTTPAPI(id string, client resilience.HTTPClient, raw map[string]string) (*HTTPAPI, error) {
	s := settings(raw)
	if s.str("url", "") == "" {
		return nil, fmt.Errorf("adapter %s: url setting is required", id)
	}
	return &HTTPAPI{id: id, client: client, settings: s}, nil
}

func (a *HTTPAPI) Track(ctx context.Context, req Request) (RawResult, error) {
	method := strings.ToUpper(a.settings.str("method", http.MethodGet))
	var body io.Reader
	if method != http.MethodGet {
		body = strings.NewReader(expand(a.settings.str("body", ""), req, false))
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, expand(a.settings.str("url", ""), req, true), body)
	if err != nil {
		return RawResult{}, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for name, value := range a.settings.prefixed("header.") {
		httpReq.Header.Set(name, value)
	}

	resp, err := a.client.Do(ctx, httpReq)
	if err != nil {
		return RawResult{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return RawResult{}, NotFound(fmt.Errorf("%s: %s", a.id, resp.Status))
	case resp.StatusCode >= 300:
		return RawResult{}, &resilience.StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	var doc any
	dec := json.NewDecoder(io.LimitReader(resp.Body, 4<<20))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return RawResult{}, fmt.Errorf("%s: decode response: %w", a.id, err)
	}
	if flag := a.settings.str("not_found_path", ""); flag != "" {
		if v, ok := lookup(doc, flag); ok && truthy(v) {
			return RawResult{}, NotFound(fmt.Errorf("%s: provider reported unknown number", a.id))
		}
	}
	return a.decode(doc)
}

func (a *HTTPAPI) path(field string) string {
	return a.settings.str("path."+field, defaultPaths[field])
}

func (a *HTTPAPI) decode(doc any) (RawResult, error) {
	layout := a.settings.str("time_layout", "")
	text := func(field string) string {
		v, _ := lookup(doc, a.path(field))
		return scalar(v)
	}
	out := RawResult{
		Carrier:     text("carrier"),
		Status:      text("status"),
		Origin:      text("origin"),
		Destination: text("destination"),
		Vessel:      text("vessel"),
		Voyage:      text("voyage"),
		ETD:         timePtr(text("etd"), layout),
		ATD:         timePtr(text("atd"), layout),
		ETA:         timePtr(text("eta"), layout),
		ATA:         timePtr(text("ata"), layout),
	}
	if list, ok := lookup(doc, a.path("events")); ok {
		items, _ := list.([]any)
		for _, item := range items {
			field := func(name string) string {
				v, _ := lookup(item, a.settings.str("event."+name, defaultEventPaths[name]))
				return scalar(v)
			}
			ts, _ := parseTime(field("timestamp"), layout)
			out.Events = append(out.Events, RawEvent{
				Timestamp:   ts,
				Location:    field("location"),
				Description: field("description"),
				Status:      field("status"),
			})
		}
	}
	if out.Status == "" && len(out.Events) == 0 {
		return RawResult{}, NotFound(fmt.Errorf("%s: empty tracking payload", a.id))
	}
	return out, nil
}

// lookup walks a dotted path through decoded JSON. Numeric segments index arrays.
func lookup(doc any, path string) (any, bool) {
	if path == "" || path == "." {
		return doc, true
	}
	current := doc
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

func scalar(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, _ := strconv.ParseBool(val)
		return b
	}
	return false
}
