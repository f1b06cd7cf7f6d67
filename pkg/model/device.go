package model

import (
	"fmt"
	"time"
)

// DeviceStatus is the operational state a device reports.
type DeviceStatus string

const (
	DeviceOnline      DeviceStatus = "Online"
	DeviceOffline     DeviceStatus = "Offline"
	DeviceError       DeviceStatus = "Error"
	DeviceMaintenance DeviceStatus = "Maintenance"
	DeviceUnknown     DeviceStatus = "Unknown"
)

// IsValid returns true if s is a known status.
func (s DeviceStatus) IsValid() bool {
	switch s {
	case DeviceOnline, DeviceOffline, DeviceError, DeviceMaintenance, DeviceUnknown:
		return true
	}
	return false
}

// ParseDeviceStatus accepts the status names case-sensitively.
func ParseDeviceStatus(s string) (DeviceStatus, error) {
	st := DeviceStatus(s)
	if !st.IsValid() {
		return DeviceUnknown, fmt.Errorf("unknown device status %q", s)
	}
	return st, nil
}

// DeviceState is the snapshot pushed as StateUpdate(deviceId, state).
type DeviceState struct {
	CurrentState    DeviceStatus `json:"currentState"`
	LastSeen        time.Time    `json:"lastSeen"`
	FirmwareVersion string       `json:"firmwareVersion,omitempty"`
	LastError       string       `json:"lastError,omitempty"`
}

// HasError returns true if the device reports an error state or message.
func (d DeviceState) HasError() bool {
	return d.CurrentState == DeviceError || d.LastError != ""
}
