package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProvisionUnit is one paid-for eSIM: one quantity increment of a cart line.
type ProvisionUnit struct {
	Index      int
	CartItemID int64
	UserID     int64
	Plan       *Plan
}

// ExpandUnits turns every active cart line into Quantity independent units.
func ExpandUnits(cart *Cart) []ProvisionUnit {
	units := make([]ProvisionUnit, 0, cart.UnitCount())
	for _, item := range cart.ActiveItems() {
		for i := 0; i < item.Quantity; i++ {
			units = append(units, ProvisionUnit{
				Index:      len(units),
				CartItemID: item.ID,
				UserID:     cart.UserID,
				Plan:       item.Plan,
			})
		}
	}
	return units
}

// ProvisionedSim is the upstream purchase result for one unit.
type ProvisionedSim struct {
	ExternalID   string
	ICCID        string
	QRCodeURL    string
	ProductName  string
	DataAmount   int64
	ValidityDays int
	Price        decimal.Decimal
}

// ProvisionOutcome is either Provisioned or ProvisionFailed.
type ProvisionOutcome interface {
	ProvisionUnit() ProvisionUnit
	sealed()
}

type Provisioned struct {
	Unit ProvisionUnit
	Sim  ProvisionedSim
}

type ProvisionFailed struct {
	Unit   ProvisionUnit
	Reason string
}

func (p Provisioned) ProvisionUnit() ProvisionUnit     { return p.Unit }
func (p ProvisionFailed) ProvisionUnit() ProvisionUnit { return p.Unit }
func (Provisioned) sealed()                            {}
func (ProvisionFailed) sealed()                        {}

// EsimFromOutcome maps an outcome to the row stored for it.
func EsimFromOutcome(order *Order, outcome ProvisionOutcome, now time.Time) *Esim {
	unit := outcome.ProvisionUnit()
	cartItemID := unit.CartItemID
	e := &Esim{
		OrderID:    order.ID,
		CartItemID: &cartItemID,
		UserID:     unit.UserID,
		CountryID:  order.CountryID,
	}
	if unit.Plan != nil {
		e.ProductName = unit.Plan.Name
		e.Price = unit.Plan.Price
		e.ValidityDays = unit.Plan.ValidityDays
		e.DataAmount = unit.Plan.DataAmount
		e.PlanIDs = []int64{unit.Plan.ID}
	}

	switch o := outcome.(type) {
	case Provisioned:
		e.ExternalID = stringPtr(o.Sim.ExternalID)
		e.ICCID = stringPtr(o.Sim.ICCID)
		e.QRCodeURL = stringPtr(o.Sim.QRCodeURL)
		if o.Sim.ProductName != "" {
			e.ProductName = o.Sim.ProductName
		}
		if o.Sim.DataAmount > 0 {
			e.DataAmount = o.Sim.DataAmount
		}
		if o.Sim.ValidityDays > 0 {
			e.ValidityDays = o.Sim.ValidityDays
		}
		if o.Sim.Price.IsPositive() {
			e.Price = o.Sim.Price
		}
		start := now.UTC()
		end := start.AddDate(0, 0, e.ValidityDays)
		e.StartDate = &start
		e.EndDate = &end
		e.IsActive = true
	case ProvisionFailed:
		e.IsActive = false
	}
	return e
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
