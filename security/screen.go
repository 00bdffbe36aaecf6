package security

import "github.com/b00t-dev/acs/envelope"

// ScreenTask checks a TaskDelegation for red flags, adapted from
// security.go's ScreenTask (which screened the teacher's richer TaskSpec —
// Reversible/AutonomyLevel/ContextSensitivity/Verifiability/Complexity —
// none of which ACS's TaskDelegation carries). The adaptation keeps the same
// intent against the fields ACS actually has: capability-count, deadline
// pressure, and priority. This is advisory only (spec §12): it never blocks
// a hand-off by itself, only surfaces warnings a WorkerHandler decorator can
// act on.
func ScreenTask(td envelope.TaskDelegation) []string {
	var warnings []string

	if len(td.RequiredCapabilities) > 10 {
		warnings = append(warnings, "excessive required capabilities requested")
	}

	if td.Priority == envelope.PriorityCritical && td.DeadlineUnix == 0 {
		warnings = append(warnings, "critical priority with no deadline — unbounded urgency")
	}

	if td.Blocking && td.Priority == envelope.PriorityCritical {
		warnings = append(warnings, "blocking critical delegation — captain will stall on this worker")
	}

	if td.Description == "" {
		warnings = append(warnings, "task has no description — cannot be reviewed before acceptance")
	}

	return warnings
}
