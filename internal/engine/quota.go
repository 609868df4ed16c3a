package engine

// DefaultMaxSteps is the default maximum number of activity executions per
// drain. This stops runaway loops (A → B → A with conditions that never
// change) from holding an instance lock forever.
const DefaultMaxSteps = 10000

// stepQuota counts activity executions within one drain of the work queue
// and enforces the max steps limit.
//
// Each Façade call gets its own quota. The count starts at zero on every
// call, so a long-lived instance is only limited per call, never in total.
type stepQuota struct {
	max     int
	current int
}

func newStepQuota(maxSteps int) *stepQuota {
	return &stepQuota{max: maxSteps}
}

// check increments the step counter and validates it against the limit.
// A non-positive limit disables the check.
func (q *stepQuota) check(instanceID string) error {
	q.current++
	if q.max > 0 && q.current > q.max {
		return newError(CodeStepsExceeded, "drain exceeded max steps: %d steps > %d limit", q.current, q.max).
			withInstance(instanceID)
	}
	return nil
}
