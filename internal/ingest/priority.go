package ingest

import (
	"strconv"
	"strings"

	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// Priority orders queued submissions. Higher values are dequeued first.
type Priority int

const (
	PriorityNormal   Priority = 1
	PriorityElevated Priority = 3
	PriorityUrgent   Priority = 4
)

// tierOrder lists queue tiers from first-served to last.
var tierOrder = [...]Priority{PriorityUrgent, PriorityElevated, PriorityNormal}

// tier maps any priority onto its queue tier index.
func (p Priority) tier() int {
	switch {
	case p >= PriorityUrgent:
		return 0
	case p >= PriorityElevated:
		return 1
	default:
		return 2
	}
}

func (p Priority) String() string {
	switch tierOrder[p.tier()] {
	case PriorityUrgent:
		return "urgent"
	case PriorityElevated:
		return "high"
	default:
		return "normal"
	}
}

// ParsePriority reads the X-Priority header or the MQTT priority field.
// It accepts normal, high (or elevated), urgent and the numeric values
// 1, 3 and 4. Empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "high", "elevated":
		return PriorityElevated, nil
	case "urgent":
		return PriorityUrgent, nil
	}

	n, err := strconv.Atoi(s)
	if err == nil {
		switch p := Priority(n); p {
		case PriorityNormal, PriorityElevated, PriorityUrgent:
			return p, nil
		}
	}
	return PriorityNormal, &telemetry.ValidationError{Field: "priority", Reason: "unknown priority " + strconv.Quote(s)}
}
