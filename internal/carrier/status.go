package carrier

import (
	"strings"

	"github.com/xenking/kart-checkout/internal/domain/shipment"
)

// rawStatuses maps the carrier's upper-case status strings to the coarse
// vocabulary. Unlisted strings are reported as unknown.
var rawStatuses = map[string]shipment.Status{
	"NEW":                        shipment.StatusNew,
	"INVOICED":                   shipment.StatusNew,
	"READY TO SHIP":              shipment.StatusNew,
	"AWB ASSIGNED":               shipment.StatusNew,
	"LABEL GENERATED":            shipment.StatusNew,
	"PICKUP SCHEDULED":           shipment.StatusPickupScheduled,
	"PICKUP GENERATED":           shipment.StatusPickupScheduled,
	"PICKUP QUEUED":              shipment.StatusPickupScheduled,
	"PICKUP RESCHEDULED":         shipment.StatusPickupScheduled,
	"OUT FOR PICKUP":             shipment.StatusPickupScheduled,
	"PICKED UP":                  shipment.StatusInTransit,
	"SHIPPED":                    shipment.StatusInTransit,
	"IN TRANSIT":                 shipment.StatusInTransit,
	"REACHED AT DESTINATION HUB": shipment.StatusInTransit,
	"OUT FOR DELIVERY":           shipment.StatusInTransit,
	"UNDELIVERED":                shipment.StatusInTransit,
	"DELAYED":                    shipment.StatusInTransit,
	"DELIVERED":                  shipment.StatusDelivered,
	"RTO INITIATED":              shipment.StatusReturnToOrigin,
	"RTO IN TRANSIT":             shipment.StatusReturnToOrigin,
	"RTO DELIVERED":              shipment.StatusReturnToOrigin,
	"RTO ACKNOWLEDGED":           shipment.StatusReturnToOrigin,
	"CANCELED":                   shipment.StatusCancelled,
	"CANCELLED":                  shipment.StatusCancelled,
	"CANCELLATION REQUESTED":     shipment.StatusCancelled,
}

// ParseStatus maps a raw carrier status to the coarse vocabulary. Values that
// already belong to the vocabulary pass through.
func ParseStatus(raw string) (shipment.Status, bool) {
	norm := strings.Join(strings.Fields(strings.ToUpper(strings.NewReplacer("_", " ", "-", " ").Replace(raw))), " ")
	if s, ok := rawStatuses[norm]; ok {
		return s, true
	}
	if s := shipment.Status(strings.ToLower(strings.TrimSpace(raw))); s.Known() {
		return s, true
	}
	return "", false
}
