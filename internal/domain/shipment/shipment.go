// Package shipment defines the carrier's coarse status vocabulary and the
// create-shipment contract.
package shipment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Status is the coarse carrier status.
type Status string

const (
	StatusNew             Status = "new"
	StatusPickupScheduled Status = "pickup-scheduled"
	StatusInTransit       Status = "in-transit"
	StatusDelivered       Status = "delivered"
	StatusReturnToOrigin  Status = "return-to-origin"
	StatusCancelled       Status = "cancelled"
)

// ErrNotFound is returned when the carrier does not know the shipment.
var ErrNotFound = errors.New("shipment not found")

// PrePickup reports whether the parcel has not left the warehouse yet.
func (s Status) PrePickup() bool {
	return s == StatusNew || s == StatusPickupScheduled
}

// Known reports whether s belongs to the vocabulary.
func (s Status) Known() bool {
	switch s {
	case StatusNew, StatusPickupScheduled, StatusInTransit, StatusDelivered, StatusReturnToOrigin, StatusCancelled:
		return true
	default:
		return false
	}
}

// Shipment is the carrier data recorded on an order.
type Shipment struct {
	CarrierOrderID string    `json:"carrier_order_id"`
	ShipmentID     string    `json:"shipment_id"`
	AWB            string    `json:"awb,omitempty"`
	Status         Status    `json:"status"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Address is a delivery address.
type Address struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Country string `json:"country"`
}

// Item is a line of a shipment request.
type Item struct {
	SKU      string
	Name     string
	Units    int
	Price    string
	Discount string
}

// Request asks the carrier to create a shipment.
type Request struct {
	OrderID        string
	OrderDate      time.Time
	Address        Address
	Items          []Item
	CashOnDelivery bool
	SubTotal       string
}

// Carrier creates shipments and reports their status.
type Carrier interface {
	CreateShipment(ctx context.Context, req Request) (Shipment, error)
	Track(ctx context.Context, shipmentID string) (Status, error)
}
