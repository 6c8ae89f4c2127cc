package scoring

// Priority levels reported alongside a score.
const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// PriorityFor maps a score to its priority level.
func PriorityFor(score float64) string {
	switch {
	case score >= 85:
		return PriorityUrgent
	case score >= 70:
		return PriorityHigh
	case score >= 50:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
