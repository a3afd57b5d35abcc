package domain

import "strings"

// StatusMapping turns a provider event into a local status. The event type
// wins, then the provider status, then Default.
type StatusMapping struct {
	ByEventType map[string]string
	ByStatus    map[string]string
	Default     string
}

func (m StatusMapping) Resolve(eventType, providerStatus string) string {
	eventType = strings.TrimSpace(eventType)
	if v, ok := m.ByEventType[eventType]; ok {
		return v
	}
	providerStatus = strings.ToLower(strings.TrimSpace(providerStatus))
	if v, ok := m.ByStatus[providerStatus]; ok {
		return v
	}
	return m.Default
}
