package schedule

// transitions lists the legal status moves.
//
//	pending -> scheduled -> running -> {completed | failed | cancelled}
//	failed -> pending                  (retry)
//	pending | scheduled -> cancelled   (cancel)
//	completed | failed | cancelled -> scheduled (user reschedule)
//
// Recurring jobs return to scheduled after each successful run, and a retry
// fires straight from pending.
var transitions = map[Status][]Status{
	StatusPending:   {StatusScheduled, StatusRunning, StatusCancelled, StatusFailed},
	StatusScheduled: {StatusRunning, StatusCancelled, StatusFailed, StatusScheduled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusScheduled, StatusPending},
	StatusCompleted: {StatusScheduled},
	StatusFailed:    {StatusPending, StatusScheduled},
	StatusCancelled: {StatusScheduled},
}

// CanTransition reports whether a job may move from one status to another.
// Store.UpdateJob refuses guarded status writes that it does not allow.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
