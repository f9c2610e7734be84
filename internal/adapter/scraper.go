package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// Scraper reads a carrier tracking page with colly. Selectors come from
// provider settings:
//
//	url                     page URL, supports {number} {type} {carrier}
//	select.<field>          CSS selector for carrier, status, origin,
//	                        destination, vessel, voyage, etd, atd, eta, ata
//	select.events           selector matching one element per event
//	event.<field>           child selector for timestamp, location, description, status
//	not_found               selector whose presence means the number is unknown
//	time_layout             Go layout tried before the built-in formats
//	user_agent              request User-Agent
type Scraper struct {
	id        string
	settings  settings
	transport http.RoundTripper
	timeout   time.Duration
	userAgent string
}

// NewScraper builds a scraper adapter for provider id.
func NewScraper(id string, transport http.RoundTripper, timeout time.Duration, raw map[string]string) (*Scraper, error) {
	s := settings(raw)
	if s.str("url", "") == "" {
		return nil, fmt.Errorf("adapter %s: url setting is required", id)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Scraper{
		id:        id,
		settings:  s,
		transport: transport,
		timeout:   s.duration("timeout", timeout),
		userAgent: s.str("user_agent", "tracking-engine/1.0"),
	}, nil
}

// contextTransport binds every outgoing request to the caller's context so an
// abandoned attempt tears down its connection.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(r.WithContext(t.ctx))
}

type scrapeOutcome struct {
	result   RawResult
	notFound bool
	status   int
	err      error
}

func (s *Scraper) Track(ctx context.Context, req Request) (RawResult, error) {
	c := colly.NewCollector(
		colly.UserAgent(s.userAgent),
		colly.AllowURLRevisit(),
	)
	c.WithTransport(contextTransport{ctx: ctx, base: s.transport})
	if s.timeout > 0 {
		c.SetRequestTimeout(s.timeout)
	}

	var out scrapeOutcome
	layout := s.settings.str("time_layout", "")
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	c.OnHTML("html", func(e *colly.HTMLElement) {
		if sel := s.settings.str("not_found", ""); sel != "" && e.DOM.Find(sel).Length() > 0 {
			out.notFound = true
			return
		}
		text := func(field string) string {
			sel := s.settings.str("select."+field, "")
			if sel == "" {
				return ""
			}
			return clean(e.DOM.Find(sel).First().Text())
		}
		out.result = RawResult{
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
		if sel := s.settings.str("select.events", ""); sel != "" {
			e.ForEach(sel, func(_ int, row *colly.HTMLElement) {
				child := func(field string) string {
					childSel := s.settings.str("event."+field, "")
					if childSel == "" {
						return ""
					}
					return clean(row.DOM.Find(childSel).First().Text())
				}
				ts, _ := parseTime(child("timestamp"), layout)
				out.result.Events = append(out.result.Events, RawEvent{
					Timestamp:   ts,
					Location:    child("location"),
					Description: child("description"),
					Status:      child("status"),
				})
			})
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		out.err = err
		if r != nil {
			out.status = r.StatusCode
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(expand(s.settings.str("url", ""), req, true))
	}()

	select {
	case <-ctx.Done():
		return RawResult{}, ctx.Err()
	case err := <-done:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return RawResult{}, ctxErr
		}
		if err != nil && out.err == nil {
			out.err = err
		}
	}

	switch {
	case out.status == http.StatusNotFound || out.notFound:
		return RawResult{}, NotFound(fmt.Errorf("%s: tracking page reports unknown number", s.id))
	case out.status == http.StatusTooManyRequests:
		return RawResult{}, RateLimited(fmt.Errorf("%s: %w", s.id, out.err))
	case out.err != nil:
		if errors.Is(out.err, context.DeadlineExceeded) {
			return RawResult{}, Timeout(out.err)
		}
		return RawResult{}, fmt.Errorf("%s: scrape: %w", s.id, out.err)
	case out.result.Status == "" && len(out.result.Events) == 0:
		return RawResult{}, NotFound(fmt.Errorf("%s: no tracking data on page", s.id))
	}
	return out.result, nil
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
