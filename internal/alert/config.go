// Package alert fans emergency events out to independently configured
// notification channels. Channels are isolated from each other: one
// failing channel never blocks or fails delivery to the rest.
package alert

// ChannelConfig defines one alert destination.
type ChannelConfig struct {
	Name    string            `yaml:"name"    json:"name"`
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty", "statuspage"
	Events  []string          `yaml:"events"  json:"events"` // empty = all events
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Event is the payload delivered to alert channels.
type Event struct {
	Timestamp string   `json:"timestamp"`
	Action    string   `json:"action"` // audit action name
	Level     int      `json:"level"`
	Scope     string   `json:"scope"`
	Reason    string   `json:"reason"`
	ActorID   string   `json:"actor_id"`
	ActorKind string   `json:"actor_kind"`
	Failures  []string `json:"failed_adapters,omitempty"`

	// Internal marks alerts about the control plane itself, such as a
	// persistence failure. Always highest severity.
	Internal bool `json:"internal,omitempty"`
}
