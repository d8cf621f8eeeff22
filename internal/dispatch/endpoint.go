package dispatch

import "github.com/samber/lo"

// Endpoint is one outbound delivery target. Endpoints are held in selection
// priority order; only the highest-priority configured endpoint receives a
// given flush. EventTypes restricts which event types the endpoint accepts;
// nil means all types.
type Endpoint struct {
	Name       string
	URL        string
	EventTypes []string
}

func (ep Endpoint) accepts(eventType string) bool {
	if ep.EventTypes == nil {
		return true
	}
	return lo.Contains(ep.EventTypes, eventType)
}
