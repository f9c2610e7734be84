package status

import "time"

// Status is the canonical shipment state shared by every carrier and provider.
type Status string

const (
	Registered     Status = "registered"
	InTransit      Status = "in_transit"
	Arrived        Status = "arrived"
	CustomsHold    Status = "customs_hold"
	CustomsCleared Status = "customs_cleared"
	OutForDelivery Status = "out_for_delivery"
	Delivered      Status = "delivered"
	Delayed        Status = "delayed"
	Exception      Status = "exception"
	Cancelled      Status = "cancelled"
)

// Tone groups statuses for UI colouring.
type Tone string

const (
	ToneInfo     Tone = "info"
	ToneProgress Tone = "progress"
	ToneSuccess  Tone = "success"
	ToneWarning  Tone = "warning"
	ToneDanger   Tone = "danger"
)

// Info is the display metadata attached to a canonical status.
type Info struct {
	Status   Status `json:"status"`
	Label    string `json:"label"`
	Rank     int    `json:"rank"`
	Tone     Tone   `json:"tone"`
	Terminal bool   `json:"terminal"`
}

var infos = []Info{
	{Status: Registered, Label: "Registered", Rank: 1, Tone: ToneInfo},
	{Status: InTransit, Label: "In transit", Rank: 2, Tone: ToneProgress},
	{Status: Arrived, Label: "Arrived", Rank: 3, Tone: ToneProgress},
	{Status: CustomsHold, Label: "Customs hold", Rank: 4, Tone: ToneWarning},
	{Status: CustomsCleared, Label: "Customs cleared", Rank: 5, Tone: ToneProgress},
	{Status: OutForDelivery, Label: "Out for delivery", Rank: 6, Tone: ToneProgress},
	{Status: Delivered, Label: "Delivered", Rank: 7, Tone: ToneSuccess, Terminal: true},
	{Status: Delayed, Label: "Delayed", Rank: 8, Tone: ToneWarning},
	{Status: Exception, Label: "Exception", Rank: 9, Tone: ToneDanger},
	{Status: Cancelled, Label: "Cancelled", Rank: 10, Tone: ToneDanger, Terminal: true},
}

var byStatus = func() map[Status]Info {
	m := make(map[Status]Info, len(infos))
	for _, info := range infos {
		m[info.Status] = info
	}
	return m
}()

// All returns every canonical status ordered by rank.
func All() []Status {
	out := make([]Status, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.Status)
	}
	return out
}

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	_, ok := byStatus[s]
	return ok
}

// Info returns display metadata. Unknown values report the Registered metadata.
func (s Status) Info() Info {
	if info, ok := byStatus[s]; ok {
		return info
	}
	return byStatus[Registered]
}

// Rank is the UI priority of the status (1..10).
func (s Status) Rank() int { return s.Info().Rank }

// Label is the human readable name of the status.
func (s Status) Label() string { return s.Info().Label }

// Terminal reports whether the shipment can no longer change (delivered or cancelled).
func (s Status) Terminal() bool {
	info, ok := byStatus[s]
	return ok && info.Terminal
}

func (s Status) String() string { return string(s) }

// IsDelayed derives the display-only delay flag: an ETA in the past on a shipment
// that has not reached a terminal status.
func IsDelayed(eta *time.Time, s Status, now time.Time) bool {
	if eta == nil || eta.IsZero() {
		return false
	}
	if s.Terminal() {
		return false
	}
	return eta.Before(now)
}
