package events

import "strconv"

// TypeAlertsScanned is emitted after each scheduled expiry scan.
const TypeAlertsScanned = "alerts.scanned"

// AlertsScanned summarises a scanner run.
type AlertsScanned struct {
	Urgent   int
	Expiring int64
	Matured  int
}

// EventType satisfies the Event interface.
func (AlertsScanned) EventType() string { return TypeAlertsScanned }

// Event converts the structured payload into a broadcastable event.
func (e AlertsScanned) Event() *Record {
	return &Record{Type: TypeAlertsScanned, Attributes: map[string]string{
		"urgent":   strconv.Itoa(e.Urgent),
		"expiring": strconv.FormatInt(e.Expiring, 10),
		"matured":  strconv.Itoa(e.Matured),
	}}
}
