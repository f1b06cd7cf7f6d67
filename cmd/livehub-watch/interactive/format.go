package interactive

import (
	"fmt"
	"strings"
	"time"

	"github.com/opsboard/livehub-go/pkg/model"
)

// FormatDevice renders a device state on one line.
func FormatDevice(d model.DeviceState) string {
	var b strings.Builder
	b.WriteString(string(d.CurrentState))
	if d.FirmwareVersion != "" {
		fmt.Fprintf(&b, " fw=%s", d.FirmwareVersion)
	}
	if !d.LastSeen.IsZero() {
		fmt.Fprintf(&b, " seen=%s", d.LastSeen.Format(time.TimeOnly))
	}
	if d.LastError != "" {
		fmt.Fprintf(&b, " error=%q", d.LastError)
	}
	return b.String()
}

// FormatMachine renders an OEE snapshot on one line.
func FormatMachine(m model.MachineOEE) string {
	var b strings.Builder
	if m.MachineName != "" {
		fmt.Fprintf(&b, "%s ", m.MachineName)
	}
	fmt.Fprintf(&b, "OEE %.1f%% (A %.1f%% P %.1f%% Q %.1f%%) good=%d reject=%d",
		m.OEE*100, m.Availability*100, m.Performance*100, m.Quality*100,
		m.GoodCount, m.RejectCount)
	if m.Status != "" {
		fmt.Fprintf(&b, " %s", m.Status)
	}
	return b.String()
}
