package metrics_collectors

import "context"

// StateMetricCollector reports a count taken from in-process state, such as
// the number of schedules waiting on a leg.
type StateMetricCollector struct {
	Key   string
	Count func() int
}

func (s *StateMetricCollector) Name() string {
	return s.Key
}

func (s *StateMetricCollector) Collect(context.Context) any {
	if s.Count == nil {
		return nil
	}
	return s.Count()
}

func (s *StateMetricCollector) Unit() string {
	return "count"
}
