package domain

import "time"

// ReportItemType enumerates evidence item kinds.
type ReportItemType string

const (
	ItemTypeIP   ReportItemType = "IP"
	ItemTypeFQDN ReportItemType = "FQDN"
	ItemTypeURL  ReportItemType = "URL"
)

// ReportItem is a single piece of abuse evidence. FQDNResolved carries the
// resolved address for FQDN/URL items when resolution succeeded.
type ReportItem struct {
	ID           string
	ReportID     string
	ItemType     ReportItemType
	RawItem      string
	IP           string
	FQDN         string
	URL          string
	FQDNResolved string
	Down         bool
}

// Report groups the evidence items a provider sent for a ticket.
type Report struct {
	ID         string
	TicketID   *string
	ProviderID string
	Subject    string
	Category   TicketCategory
	Items      []ReportItem
	ReceivedAt time.Time
}
