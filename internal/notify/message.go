package notify

import (
	"fmt"
	"strings"

	"github.com/rewired-gh/quakesentinel/internal/models"
)

// aftershockWatchHours is the watch period quoted in earthquake alerts.
const aftershockWatchHours = 72

// RenderMessage formats the alert text for an event. The aftershock lines are
// included only for earthquakes with a positive probability.
func RenderMessage(event *models.SeismicEvent, aftershockProbability float64) string {
	var b strings.Builder
	b.WriteString("🚨 SEISMIC ALERT 🚨\n\n")

	when := event.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC")
	if event.IsEarthquake() {
		b.WriteString("🌍 EARTHQUAKE DETECTED\n")
		fmt.Fprintf(&b, "📊 Magnitude: %.2f\n", event.Magnitude)
		fmt.Fprintf(&b, "⚡ Acceleration: %.2f m/s²\n", event.TotalAcceleration)
		fmt.Fprintf(&b, "⏰ Time: %s\n", when)
		fmt.Fprintf(&b, "📍 Device: %s\n\n", event.DeviceID)

		if aftershockProbability > 0 {
			fmt.Fprintf(&b, "⚠️ Aftershock probability: %.1f%%\n", aftershockProbability)
			fmt.Fprintf(&b, "🕐 Stay alert for the next %d hours\n\n", aftershockWatchHours)
		}

		b.WriteString("🛡️ RECOMMENDATIONS:\n")
		b.WriteString("• Stay in a safe place\n")
		b.WriteString("• Check your emergency kit\n")
		b.WriteString("• Watch for aftershocks\n")
		b.WriteString("• Follow safety protocols\n\n")
	} else {
		b.WriteString("📳 VIBRATION DETECTED\n")
		fmt.Fprintf(&b, "📊 Intensity: %.2f m/s²\n", event.TotalAcceleration)
		fmt.Fprintf(&b, "⏰ Time: %s\n", when)
		fmt.Fprintf(&b, "📍 Device: %s\n\n", event.DeviceID)
		b.WriteString("ℹ️ Vibration below the earthquake threshold\n")
		b.WriteString("👁️ Continuous monitoring active\n\n")
	}

	b.WriteString("🔗 quakesentinel seismic monitoring")
	return b.String()
}
