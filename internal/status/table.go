package status

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Keyword maps a fragment of a normalised raw status onto a canonical status.
// Keywords are consulted in order after an exact synonym miss.
type Keyword struct {
	Match  string `yaml:"match"`
	Status Status `yaml:"status"`
}

// Table is an immutable lookup table from raw carrier vocabulary to canonical statuses.
type Table struct {
	synonyms map[string]Status
	keywords []Keyword
}

var defaultSynonyms = map[Status][]string{
	Registered: {
		"registered", "pending", "info_received", "information_received", "created", "label_created",
		"booked", "booking_confirmed", "shipment_notification", "pre_transit", "unchecked", "not_yet_shipped",
		"empty_to_shipper", "gate_out_empty",
	},
	InTransit: {
		"in_transit", "intransit", "transit", "picked", "pickup", "picked_up", "shipped", "departed",
		"departure", "vessel_departed", "loaded", "loaded_on_vessel", "on_board", "gate_in", "gate_in_full",
		"transshipment", "transhipment", "received", "accepted", "processed", "in_route", "en_route",
		"flight_departed", "dep", "rcs", "man",
	},
	Arrived: {
		"arrived", "arrival", "at_destination", "arrived_at_destination", "vessel_arrived", "discharged",
		"discharge", "unloaded", "arr", "rcf", "flight_arrived", "ready_for_pickup", "available_for_pickup",
	},
	CustomsHold: {
		"customs_hold", "held_by_customs", "customs_inspection", "customs_pending", "in_customs", "on_hold",
		"customs", "clearance_pending",
	},
	CustomsCleared: {
		"customs_cleared", "cleared", "cleared_customs", "customs_released", "released", "clearance_complete",
	},
	OutForDelivery: {
		"out_for_delivery", "with_courier", "on_vehicle_for_delivery", "delivery_in_progress", "gate_out_full",
		"gate_out",
	},
	Delivered: {
		"delivered", "dlv", "pod", "proof_of_delivery", "empty_returned", "empty_return", "completed", "signed",
	},
	Delayed: {
		"delayed", "delay", "late", "rescheduled", "rolled", "rolled_over",
	},
	Exception: {
		"exception", "failed", "failure", "failed_attempt", "delivery_failed", "undeliverable", "damaged",
		"lost", "returned", "return_to_sender", "returned_to_sender", "expired", "alert",
	},
	Cancelled: {
		"cancelled", "canceled", "voided", "void", "booking_cancelled",
	},
}

// defaultKeywords runs most specific first: negated and pending phrases
// before the completed states they contain, destination last.
var defaultKeywords = []Keyword{
	{Match: "cancel", Status: Cancelled},
	{Match: "undeliver", Status: Exception},
	{Match: "not_delivered", Status: Exception},
	{Match: "fail", Status: Exception},
	{Match: "exception", Status: Exception},
	{Match: "damage", Status: Exception},
	{Match: "return", Status: Exception},
	{Match: "delay", Status: Delayed},
	{Match: "out_for_delivery", Status: OutForDelivery},
	{Match: "with_courier", Status: OutForDelivery},
	{Match: "attempt", Status: Exception},
	{Match: "not_cleared", Status: CustomsHold},
	{Match: "not_released", Status: CustomsHold},
	{Match: "clearance_complete", Status: CustomsCleared},
	{Match: "clearance_granted", Status: CustomsCleared},
	{Match: "clearance", Status: CustomsHold},
	{Match: "released", Status: CustomsCleared},
	{Match: "clear", Status: CustomsCleared},
	{Match: "customs", Status: CustomsHold},
	{Match: "hold", Status: CustomsHold},
	{Match: "delivered", Status: Delivered},
	{Match: "arriv", Status: Arrived},
	{Match: "discharg", Status: Arrived},
	{Match: "transit", Status: InTransit},
	{Match: "depart", Status: InTransit},
	{Match: "en_route", Status: InTransit},
	{Match: "in_route", Status: InTransit},
	{Match: "loaded", Status: InTransit},
	{Match: "shipped", Status: InTransit},
	{Match: "picked", Status: InTransit},
	{Match: "transship", Status: InTransit},
	{Match: "destination", Status: Arrived},
}

// DefaultTable returns the built-in synonym table.
func DefaultTable() *Table {
	t := &Table{synonyms: make(map[string]Status, 128)}
	for canonical, raws := range defaultSynonyms {
		for _, raw := range raws {
			t.synonyms[Key(raw)] = canonical
		}
	}
	t.keywords = normaliseKeywords(defaultKeywords)
	return t
}

// With returns a copy of t extended with extra synonyms and keywords. Extra
// keywords are consulted before the existing ones.
func (t *Table) With(synonyms map[string]Status, keywords []Keyword) *Table {
	next := &Table{synonyms: make(map[string]Status, len(t.synonyms)+len(synonyms))}
	for k, v := range t.synonyms {
		next.synonyms[k] = v
	}
	for raw, canonical := range synonyms {
		if !canonical.Valid() {
			continue
		}
		if key := Key(raw); key != "" {
			next.synonyms[key] = canonical
		}
	}
	next.keywords = append(normaliseKeywords(keywords), t.keywords...)
	return next
}

// Lookup maps a raw status onto a canonical one. It never fails: unknown input
// resolves to Registered.
func (t *Table) Lookup(raw string) Status {
	key := Key(raw)
	if key == "" || t == nil {
		return Registered
	}
	if s, ok := t.synonyms[key]; ok {
		return s
	}
	for _, kw := range t.keywords {
		if strings.Contains(key, kw.Match) {
			return kw.Status
		}
	}
	return Registered
}

// Len reports the number of exact synonyms.
func (t *Table) Len() int { return len(t.synonyms) }

// Key folds a raw status into its lookup form: lower case, trimmed, with runs
// of non alphanumeric characters collapsed to a single underscore.
func Key(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	pendingSep := false
	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		pendingSep = true
	}
	return b.String()
}

func normaliseKeywords(in []Keyword) []Keyword {
	out := make([]Keyword, 0, len(in))
	for _, kw := range in {
		match := Key(kw.Match)
		if match == "" || !kw.Status.Valid() {
			continue
		}
		out = append(out, Keyword{Match: match, Status: kw.Status})
	}
	return out
}

type tableFile struct {
	Synonyms map[Status][]string `yaml:"synonyms"`
	Keywords []Keyword           `yaml:"keywords"`
}

// ReadTable decodes a YAML synonym document and layers it on top of base.
//
//	synonyms:
//	  in_transit: ["vessel sailed", "on rail"]
//	keywords:
//	  - match: "sailed"
//	    status: in_transit
func ReadTable(base *Table, r io.Reader) (*Table, error) {
	var doc tableFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("status: decode synonyms: %w", err)
	}
	synonyms := make(map[string]Status)
	for canonical, raws := range doc.Synonyms {
		if !canonical.Valid() {
			return nil, fmt.Errorf("status: unknown canonical status %q", canonical)
		}
		for _, raw := range raws {
			synonyms[raw] = canonical
		}
	}
	for _, kw := range doc.Keywords {
		if !kw.Status.Valid() {
			return nil, fmt.Errorf("status: unknown canonical status %q for keyword %q", kw.Status, kw.Match)
		}
	}
	if base == nil {
		base = DefaultTable()
	}
	return base.With(synonyms, doc.Keywords), nil
}

// LoadTableFile reads a YAML synonym file on top of the default table.
func LoadTableFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTable(DefaultTable(), f)
}

// Normalizer is a concurrency-safe holder for the active table. Reloads swap the
// whole table atomically.
type Normalizer struct {
	table atomic.Pointer[Table]
}

// NewNormalizer wraps t; a nil table selects DefaultTable.
func NewNormalizer(t *Table) *Normalizer {
	if t == nil {
		t = DefaultTable()
	}
	n := &Normalizer{}
	n.table.Store(t)
	return n
}

// Normalize maps raw onto the canonical status set.
func (n *Normalizer) Normalize(raw string) Status {
	if n == nil {
		return defaultNormalizer.Normalize(raw)
	}
	return n.table.Load().Lookup(raw)
}

// Swap replaces the active table.
func (n *Normalizer) Swap(t *Table) {
	if t != nil {
		n.table.Store(t)
	}
}

var defaultNormalizer = NewNormalizer(DefaultTable())

// Normalize maps raw using the default table.
func Normalize(raw string) Status {
	return defaultNormalizer.Normalize(raw)
}
