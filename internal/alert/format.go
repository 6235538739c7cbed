package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	case "statuspage":
		return formatStatusPage(event)
	default:
		return json.Marshal(event)
	}
}

// severityFor maps severity level to a paging severity. Level 0 is the
// broadest action and always critical; internal control-plane failures
// are critical regardless of level.
func severityFor(event Event) string {
	if event.Internal {
		return "critical"
	}
	switch {
	case event.Level <= 0:
		return "critical"
	case event.Level <= 2:
		return "error"
	case event.Level <= 3:
		return "warning"
	default:
		return "info"
	}
}

func formatSlack(event Event) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Scope:* %s", event.Scope)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Level:* %d", event.Level)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Actor:* %s (%s)", event.ActorID, event.ActorKind)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)},
	}
	if len(event.Failures) > 0 {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Failed adapters:* %v", event.Failures),
		})
	}
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("failsafe: %s", event.Action),
				},
			},
			map[string]any{"type": "section", "fields": fields},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event Event) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("failsafe %s: %s", event.Action, event.Scope),
			"severity": severityFor(event),
			"source":   "failsafe",
			"custom_details": map[string]any{
				"level":           event.Level,
				"scope":           event.Scope,
				"actor":           event.ActorID,
				"actor_kind":      event.ActorKind,
				"reason":          event.Reason,
				"failed_adapters": event.Failures,
			},
		},
	}
	return json.Marshal(payload)
}

func formatStatusPage(event Event) ([]byte, error) {
	status := "operational"
	switch event.Action {
	case "activate", "auto_activate":
		if event.Level <= 0 {
			status = "major_outage"
		} else {
			status = "partial_outage"
		}
	}
	payload := map[string]any{
		"incident": map[string]any{
			"name":   fmt.Sprintf("Emergency action on %s", event.Scope),
			"status": status,
			"body":   event.Reason,
		},
	}
	return json.Marshal(payload)
}
