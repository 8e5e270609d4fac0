package constants

// ProjectStatus is the lifecycle state of a project row.
type ProjectStatus string

// Stable values (store these exact strings in DB).
const (
	ProjectStatusProcessing ProjectStatus = "processing" // a job is queued or running
	ProjectStatusReady      ProjectStatus = "ready"      // last job succeeded
	ProjectStatusFailed     ProjectStatus = "failed"     // last job failed
)

var allProjectStatuses = []ProjectStatus{
	ProjectStatusProcessing,
	ProjectStatusReady,
	ProjectStatusFailed,
}

// Terminal reports whether s ends a processing attempt.
func (s ProjectStatus) Terminal() bool {
	return s == ProjectStatusReady || s == ProjectStatusFailed
}

// CanTransition reports whether moving from s to next is legal.
// processing ends in exactly one of ready/failed; either terminal state may re-enter processing.
func (s ProjectStatus) CanTransition(next ProjectStatus) bool {
	switch s {
	case ProjectStatusProcessing:
		return next.Terminal()
	case ProjectStatusReady, ProjectStatusFailed:
		return next == ProjectStatusProcessing
	default:
		return false
	}
}

// Predecessors lists the statuses from which next can be reached, in declaration order.
func Predecessors(next ProjectStatus) []ProjectStatus {
	var out []ProjectStatus
	for _, s := range allProjectStatuses {
		if s.CanTransition(next) {
			out = append(out, s)
		}
	}
	return out
}

// Plan is the billing plan of a user account.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)
