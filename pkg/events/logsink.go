package events

import (
	"github.com/rs/zerolog"
)

// LogEvents writes every event received on sub to logger until sub is
// closed. It blocks; run it in its own goroutine.
func LogEvents(logger zerolog.Logger, sub Subscriber) {
	for event := range sub {
		e := logger.Info().
			Str("event_id", event.ID).
			Str("uei", event.Type).
			Str("severity", string(event.Severity)).
			Str("host", event.Host).
			Str("location", event.Location).
			Time("event_time", event.Timestamp).
			Interface("params", event.Parameters)
		if event.Device != nil {
			e = e.Str("device", event.Device.String())
		}
		e.Msg("Fault event")
	}
}
