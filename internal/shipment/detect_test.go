package shipment_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tracking-engine/internal/shipment"
	"github.com/noah-isme/tracking-engine/internal/status"
)

func TestNormalizeNumber(t *testing.T) {
	t.Parallel()

	got, err := shipment.NormalizeNumber("  medu 790-5689 ")
	require.NoError(t, err)
	require.Equal(t, "MEDU7905689", got)

	for _, raw := range []string{"", "   ", "AB1", "MEDU/7905689", "ÄÖÜ12345"} {
		_, err := shipment.NormalizeNumber(raw)
		require.ErrorIs(t, err, shipment.ErrInvalidTrackingNumber, "raw=%q", raw)
	}
}

func TestDetectFromFormat(t *testing.T) {
	t.Parallel()

	d := shipment.Detect("MEDU7905689", "")
	require.Equal(t, shipment.Container, d.Type)
	require.Equal(t, "MSC", d.Carrier)

	d = shipment.Detect("17612345675", "")
	require.Equal(t, shipment.AWB, d.Type)
	require.Equal(t, "Emirates SkyCargo", d.Carrier)

	d = shipment.Detect("1Z999AA10123456784", "")
	require.Equal(t, shipment.Parcel, d.Type)
	require.Equal(t, "UPS", d.Carrier)

	d = shipment.Detect("9400111899223197428490", "")
	require.Equal(t, shipment.Parcel, d.Type)
	require.Empty(t, d.Carrier)
}

func TestDetectHonoursHint(t *testing.T) {
	t.Parallel()

	d := shipment.Detect("ABC1234567", "container")
	require.Equal(t, shipment.Container, d.Type)

	d = shipment.Detect("123456789012", "DHL")
	require.Equal(t, shipment.Parcel, d.Type)
	require.Equal(t, "DHL", d.Carrier)

	d = shipment.Detect("MAEU1234567", "unknown-carrier")
	require.Equal(t, shipment.Container, d.Type)
	require.Equal(t, "Maersk", d.Carrier)
}

func TestSortEventsStable(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []shipment.Event{
		{Timestamp: base.Add(2 * time.Hour), Description: "c"},
		{Timestamp: base, Description: "a"},
		{Timestamp: base.Add(2 * time.Hour), Description: "d"},
		{Timestamp: base.Add(time.Hour), Description: "b"},
	}
	shipment.SortEvents(events)
	var order []string
	for _, ev := range events {
		order = append(order, ev.Description)
	}
	require.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestResultCloneIsDeep(t *testing.T) {
	t.Parallel()

	eta := time.Now()
	r := shipment.Result{
		TrackingNumber: "MEDU7905689",
		Status:         status.InTransit,
		ETA:            &eta,
		Events:         []shipment.Event{{Description: "loaded"}},
	}
	c := r.Clone()
	c.Events[0].Description = "changed"
	*c.ETA = eta.Add(time.Hour)

	require.Equal(t, "loaded", r.Events[0].Description)
	require.True(t, r.ETA.Equal(eta))
}
