package scheduler

import "sort"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	running := s.runningLocked()
	loc := s.loc
	tasks := make([]*task, 0, len(s.tasks))
	armed := make(map[string]bool, len(s.tasks))
	for name, t := range s.tasks {
		tasks = append(tasks, t)
		armed[name] = running && t.cancel != nil
	}
	s.mu.Unlock()

	tz := cfg.Timezone
	if tz == "" && loc != nil {
		tz = loc.String()
	}

	items := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		st := t.stats
		it := TaskInfo{
			Name:     t.name,
			Kind:     t.kind.String(),
			Spec:     t.spec,
			Every:    t.every,
			Armed:    armed[t.name],
			NextFire: st.next(),
			Runs:     st.runs.Load(),
			Failures: st.failures.Load(),
			Panics:   st.panics.Load(),
			InFlight: st.inFlight.Load(),
		}
		st.mu.Lock()
		it.LastFire = st.lastFire
		it.LastDuration = st.lastDuration
		it.LastError = st.lastErr
		st.mu.Unlock()
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	return Snapshot{
		Enabled:     cfg.Enabled,
		Running:     running,
		Alignment:   cfg.Alignment,
		Timezone:    tz,
		TaskTimeout: cfg.TaskTimeout,
		Tasks:       items,
	}
}

// Task returns the state of a single task.
func (s *Service) Task(name string) (TaskInfo, bool) {
	for _, it := range s.Snapshot().Tasks {
		if it.Name == name {
			return it, true
		}
	}
	return TaskInfo{}, false
}
