package status

// Status represents the lifecycle state of a managed resource or the
// terminal outcome of a test entity. Lifecycle values progress through the
// transition machine; outcome values are assigned by report aggregation.
type Status string

const (
	// Lifecycle states
	Unknown  Status = "unknown"
	Pending  Status = "pending"
	Starting Status = "starting"
	Started  Status = "started"
	Stopping Status = "stopping"
	Stopped  Status = "stopped"

	// Terminal outcomes
	Passed   Status = "passed"
	Failed   Status = "failed"
	Error    Status = "error"
	Skipped  Status = "skipped"
	Unstable Status = "unstable"
)

// lifecycleOrder defines the escalation order of lifecycle states.
var lifecycleOrder = map[Status]int{
	Unknown:  0,
	Pending:  1,
	Starting: 2,
	Started:  3,
	Stopping: 4,
	Stopped:  5,
}

// severity defines the precedence of terminal outcomes used by report
// roll-up. A higher value wins when aggregating sibling results.
var severity = map[Status]int{
	Skipped:  1,
	Passed:   2,
	Unstable: 3,
	Failed:   4,
	Error:    5,
}

// IsLifecycle returns true for lifecycle states (as opposed to outcomes).
func (s Status) IsLifecycle() bool {
	_, ok := lifecycleOrder[s]
	return ok
}

// AtLeast reports whether s has reached the given lifecycle state, i.e. it
// is the same state or a later one in the escalation order. It returns false
// when either value is not a lifecycle state.
func (s Status) AtLeast(other Status) bool {
	a, aok := lifecycleOrder[s]
	b, bok := lifecycleOrder[other]
	return aok && bok && a >= b
}

// Severity returns the roll-up precedence of an outcome status. Lifecycle
// states have severity zero so they never dominate a real outcome.
func (s Status) Severity() int {
	return severity[s]
}

// Worst returns the status with the higher severity. Ties resolve to s.
func (s Status) Worst(other Status) Status {
	if other.Severity() > s.Severity() {
		return other
	}
	return s
}

func (s Status) String() string {
	return string(s)
}
