package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"veriledger/internal/ledger/canonical"
	id "veriledger/pkg/domain"
)

// PunchType is the kind of time-clock event.
type PunchType string

const (
	PunchIn         PunchType = "entrada"
	PunchOut        PunchType = "salida"
	PunchBreakStart PunchType = "pausa_inicio"
	PunchBreakEnd   PunchType = "pausa_fin"
)

func (p PunchType) IsValid() bool {
	switch p {
	case PunchIn, PunchOut, PunchBreakStart, PunchBreakEnd:
		return true
	}
	return false
}

const coordinateScale = 6

var (
	latLimit = decimal.NewFromInt(90)
	lonLimit = decimal.NewFromInt(180)
)

// Location is an optional geotag captured with a punch.
type Location struct {
	Lat decimal.Decimal `json:"lat"`
	Lon decimal.Decimal `json:"lon"`
}

// Fichaje is a time-clock punch.
type Fichaje struct {
	EmployeeID string    `json:"employee_id"`
	PunchType  PunchType `json:"punch_type"`
	PunchedAt  time.Time `json:"punched_at"`
	Location   *Location `json:"location,omitempty"`
	DeviceID   string    `json:"device_id,omitempty"`
	Source     string    `json:"source,omitempty"`
}

func (f *Fichaje) ChainType() id.ChainType { return id.ChainFichajes }

func (f *Fichaje) Validate() error {
	if strings.TrimSpace(f.EmployeeID) == "" {
		return validationError("employee_id", "is required")
	}
	if !f.PunchType.IsValid() {
		return validationError("punch_type", "must be entrada, salida, pausa_inicio or pausa_fin")
	}
	if f.PunchedAt.IsZero() {
		return validationError("punched_at", "is required")
	}
	if f.Location != nil {
		if f.Location.Lat.Abs().GreaterThan(latLimit) {
			return validationError("location.lat", "out of range")
		}
		if f.Location.Lon.Abs().GreaterThan(lonLimit) {
			return validationError("location.lon", "out of range")
		}
	}
	return nil
}

func (f *Fichaje) Canonical() (canonical.Object, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	obj := canonical.Object{
		"employee_id": canonical.String(strings.TrimSpace(f.EmployeeID)),
		"punch_type":  canonical.String(f.PunchType),
		"punched_at":  canonical.Timestamp(f.PunchedAt),
	}
	if f.Location != nil {
		obj["location"] = canonical.Object{
			"lat": canonical.Bounded(f.Location.Lat, coordinateScale, latLimit.Neg(), latLimit),
			"lon": canonical.Bounded(f.Location.Lon, coordinateScale, lonLimit.Neg(), lonLimit),
		}
	}
	if f.DeviceID != "" {
		obj["device_id"] = canonical.String(f.DeviceID)
	}
	if f.Source != "" {
		obj["source"] = canonical.String(f.Source)
	}
	return obj, nil
}
