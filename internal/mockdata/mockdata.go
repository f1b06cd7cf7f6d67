// Package mockdata generates deterministic device and machine states for
// the hub simulator. Nothing uses it unless a flag asks for mock data.
package mockdata

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/opsboard/livehub-go/pkg/model"
)

var machineNames = []string{
	"Press 1", "Press 2", "CNC Mill A", "CNC Mill B", "Lathe 3",
	"Welding Cell", "Paint Line", "Packaging 1", "Packaging 2", "Assembly 4",
}

var firmware = []string{"1.4.2", "1.5.0", "2.0.1"}

// Generator produces states from a seeded random source.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand

	// shift start for every machine period
	shift time.Duration
}

// New creates a generator. The same seed yields the same sequence.
func New(seed int64) *Generator {
	return &Generator{
		rng:   rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)),
		shift: 8 * time.Hour,
	}
}

// MachineIDs returns machine-1 .. machine-n.
func MachineIDs(n int) []string {
	return ids("machine", n)
}

// DeviceIDs returns device-1 .. device-n.
func DeviceIDs(n int) []string {
	return ids("device", n)
}

func ids(prefix string, n int) []string {
	out := make([]string, n)
	for i := range n {
		out[i] = fmt.Sprintf("%s-%d", prefix, i+1)
	}
	return out
}

// Machine returns an OEE snapshot for id covering the shift up to now.
func (g *Generator) Machine(id string, now time.Time) model.MachineOEE {
	g.mu.Lock()
	defer g.mu.Unlock()

	m := model.MachineOEE{
		MachineID:    id,
		MachineName:  machineNames[g.rng.IntN(len(machineNames))],
		Availability: g.ratio(0.70, 0.99),
		Performance:  g.ratio(0.60, 0.98),
		Quality:      g.ratio(0.90, 1.00),
		PeriodStart:  now.Add(-g.shift).Truncate(time.Minute),
		PeriodEnd:    now.Truncate(time.Minute),
		UpdatedAt:    now,
	}
	m.OEE = round(m.ComputeOEE())

	planned := g.shift.Minutes()
	m.PlannedProductionTime = planned
	m.RunTime = round(planned * m.Availability)

	total := int64(m.RunTime * 2 * m.Performance)
	m.GoodCount = int64(float64(total) * m.Quality)
	m.RejectCount = total - m.GoodCount

	switch {
	case m.Availability < 0.75:
		m.Status = model.MachineDown
	case g.rng.IntN(10) == 0:
		m.Status = model.MachineIdle
	default:
		m.Status = model.MachineRunning
	}
	return m
}

// Machines returns snapshots for machine-1 .. machine-n.
func (g *Generator) Machines(n int, now time.Time) []model.MachineOEE {
	out := make([]model.MachineOEE, 0, n)
	for _, id := range MachineIDs(n) {
		out = append(out, g.Machine(id, now))
	}
	return out
}

// Device returns a device state for id.
func (g *Generator) Device(id string, now time.Time) model.DeviceState {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := model.DeviceState{
		CurrentState:    model.DeviceOnline,
		LastSeen:        now.Add(-time.Duration(g.rng.IntN(30)) * time.Second),
		FirmwareVersion: firmware[g.rng.IntN(len(firmware))],
	}
	switch n := g.rng.IntN(20); {
	case n == 0:
		d.CurrentState = model.DeviceError
		d.LastError = "sensor timeout"
	case n == 1:
		d.CurrentState = model.DeviceMaintenance
	case n < 4:
		d.CurrentState = model.DeviceOffline
		d.LastSeen = now.Add(-time.Duration(5+g.rng.IntN(55)) * time.Minute)
	}
	return d
}

func (g *Generator) ratio(lo, hi float64) float64 {
	return round(lo + g.rng.Float64()*(hi-lo))
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
