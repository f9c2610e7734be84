package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Static answers from provider settings. It backs demo providers and local
// development without network access.
//
//	status, carrier, origin, destination, vessel, voyage
//	etd, atd, eta, ata      timestamps
//	events                  "timestamp|location|description|status" joined by ";"
//	latency                 artificial delay, honours cancellation
//	fail                    not_found, timeout, rate_limited or unknown
type Static struct {
	id       string
	settings settings
}

// NewStatic builds a static adapter.
func NewStatic(id string, raw map[string]string) *Static {
	return &Static{id: id, settings: settings(raw)}
}

func (s *Static) Track(ctx context.Context, req Request) (RawResult, error) {
	if delay := s.settings.duration("latency", 0); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return RawResult{}, ctx.Err()
		case <-timer.C:
		}
	}

	cause := fmt.Errorf("%s: scripted failure for %s", s.id, req.TrackingNumber)
	switch Kind(s.settings.str("fail", "")) {
	case "":
	case KindNotFound:
		return RawResult{}, NotFound(cause)
	case KindTimeout:
		return RawResult{}, Timeout(cause)
	case KindRateLimited:
		return RawResult{}, RateLimited(cause)
	default:
		return RawResult{}, errors.New(cause.Error())
	}

	out := RawResult{
		Carrier:     s.settings.str("carrier", ""),
		Status:      s.settings.str("status", "registered"),
		Origin:      s.settings.str("origin", ""),
		Destination: s.settings.str("destination", ""),
		Vessel:      s.settings.str("vessel", ""),
		Voyage:      s.settings.str("voyage", ""),
		ETD:         timePtr(s.settings.str("etd", ""), ""),
		ATD:         timePtr(s.settings.str("atd", ""), ""),
		ETA:         timePtr(s.settings.str("eta", ""), ""),
		ATA:         timePtr(s.settings.str("ata", ""), ""),
	}
	for _, chunk := range strings.Split(s.settings.str("events", ""), ";") {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		parts := strings.SplitN(chunk, "|", 4)
		for len(parts) < 4 {
			parts = append(parts, "")
		}
		ts, _ := parseTime(parts[0], "")
		out.Events = append(out.Events, RawEvent{
			Timestamp:   ts,
			Location:    strings.TrimSpace(parts[1]),
			Description: strings.TrimSpace(parts[2]),
			Status:      strings.TrimSpace(parts[3]),
		})
	}
	return out, nil
}
