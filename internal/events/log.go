package events

import "github.com/rs/zerolog"

// LogPublisher writes every event to l at debug level.
func LogPublisher(l zerolog.Logger) Publisher {
	return PublisherFunc(func(e Event) {
		ev := l.Debug().Str("name", e.Name)
		if e.ModelID != "" {
			ev = ev.Str("model", e.ModelID)
		}
		if e.Session != "" {
			ev = ev.Str("session", e.Session)
		}
		ev.Fields(e.Fields).Msg("events event=published")
	})
}
