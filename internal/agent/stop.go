package agent

// StopCondition decides, after a step has fully executed, whether the loop
// should end. Conditions are composable with StopAny; the loop's hard
// iteration bound applies regardless.
type StopCondition func(step Step) bool

// StopOnTool stops once the named tool has been called in a step.
func StopOnTool(name string) StopCondition {
	return StopOnAnyTool(name)
}

// StopOnAnyTool stops once any of the named tools has been called.
func StopOnAnyTool(names ...string) StopCondition {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(step Step) bool {
		for _, call := range step.ToolCalls {
			if _, ok := set[call.Name]; ok {
				return true
			}
		}
		return false
	}
}

// StopOnNoToolCalls stops when the model answers with plain text only.
func StopOnNoToolCalls() StopCondition {
	return func(step Step) bool {
		return len(step.ToolCalls) == 0
	}
}

// StopOnBudget stops once the run's cumulative cost exceeds maxCost.
// A non-positive budget never stops.
func StopOnBudget(maxCost float64) StopCondition {
	return func(step Step) bool {
		return maxCost > 0 && step.CumulativeCost > maxCost
	}
}

// StopAny combines conditions with OR.
func StopAny(conds ...StopCondition) StopCondition {
	return func(step Step) bool {
		for _, cond := range conds {
			if cond != nil && cond(step) {
				return true
			}
		}
		return false
	}
}
