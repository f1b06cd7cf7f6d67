package model

import (
	"errors"
	"fmt"
	"time"
)

// MachineStatus is the production state of a machine.
type MachineStatus string

const (
	MachineRunning     MachineStatus = "Running"
	MachineIdle        MachineStatus = "Idle"
	MachineDown        MachineStatus = "Down"
	MachineMaintenance MachineStatus = "Maintenance"
	MachineUnknown     MachineStatus = "Unknown"
)

// IsValid returns true if s is a known status.
func (s MachineStatus) IsValid() bool {
	switch s {
	case MachineRunning, MachineIdle, MachineDown, MachineMaintenance, MachineUnknown:
		return true
	}
	return false
}

// ErrMissingMachineID is returned for a payload without a machine ID.
var ErrMissingMachineID = errors.New("machineId is required")

// MachineOEE is the OEE aggregation pushed by the machine hub. The machine
// hub routes it by MachineID.
//
// Availability, Performance, Quality and OEE are fractions in [0, 1].
// PlannedProductionTime and RunTime are in seconds.
type MachineOEE struct {
	MachineID             string        `json:"machineId"`
	MachineName           string        `json:"machineName,omitempty"`
	Availability          float64       `json:"availability"`
	Performance           float64       `json:"performance"`
	Quality               float64       `json:"quality"`
	OEE                   float64       `json:"oee"`
	GoodCount             int64         `json:"goodCount"`
	RejectCount           int64         `json:"rejectCount"`
	PlannedProductionTime float64       `json:"plannedProductionTime"`
	RunTime               float64       `json:"runTime"`
	Status                MachineStatus `json:"status,omitempty"`
	PeriodStart           time.Time     `json:"periodStart"`
	PeriodEnd             time.Time     `json:"periodEnd"`
	UpdatedAt             time.Time     `json:"updatedAt"`
}

// ComputeOEE returns availability × performance × quality.
func (m MachineOEE) ComputeOEE() float64 {
	return m.Availability * m.Performance * m.Quality
}

// TotalCount returns good plus rejected parts.
func (m MachineOEE) TotalCount() int64 {
	return m.GoodCount + m.RejectCount
}

// Validate checks the routing key and that the ratios are fractions.
func (m MachineOEE) Validate() error {
	if m.MachineID == "" {
		return ErrMissingMachineID
	}
	for name, v := range map[string]float64{
		"availability": m.Availability,
		"performance":  m.Performance,
		"quality":      m.Quality,
		"oee":          m.OEE,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s %.3f out of range [0, 1]", name, v)
		}
	}
	if m.GoodCount < 0 || m.RejectCount < 0 {
		return errors.New("part counts must not be negative")
	}
	return nil
}
