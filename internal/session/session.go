package session

import (
	"context"
	"math/rand"
	"sync"

	"ab-gateway/internal/assign"
	"ab-gateway/internal/pipeline"
	"ab-gateway/internal/storage"
)

// Session is the per-request experiment surface. Experiments declared on it
// accumulate until Flush persists them in one transaction. A Session is safe
// for concurrent use, though a single request rarely needs that.
type Session struct {
	manager  *Manager
	instance *storage.Instance
	rng      *rand.Rand

	mu    sync.Mutex
	prior map[string]string
	tests []*Experiment
}

// Experiment is a builder for one experiment declaration. Conditions are
// added in order; Track resolves the variant and arms the experiment for the
// next Flush.
type Experiment struct {
	session    *Session
	name       string
	conditions []string
	forced     string
	fired      string
	goal       string
	tracked    bool
}

// ActiveTest describes one tracked experiment on the session.
type ActiveTest struct {
	Experiment string `json:"experiment"`
	Variant    string `json:"variant"`
	Goal       string `json:"goal"`
}

// InstanceID returns the public instance id for this session, for embedding
// into pages so external systems can post goals against it.
func (s *Session) InstanceID() string {
	return s.instance.Instance
}

// Instance returns the backing instance row.
func (s *Session) Instance() *storage.Instance {
	return s.instance
}

// Experiment declares an experiment on the session. Redeclaring a name
// returns the existing builder so a template can reference the same
// experiment twice without splitting its exposure.
func (s *Session) Experiment(name string) *Experiment {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tests {
		if t.name == name {
			return t
		}
	}

	t := &Experiment{session: s, name: name}
	s.tests = append(s.tests, t)
	return t
}

// Choice declares an experiment with its candidate variants in one call.
func (s *Session) Choice(name string, conditions ...string) *Experiment {
	t := s.Experiment(name)
	for _, c := range conditions {
		t.Condition(c)
	}
	return t
}

// Condition adds a candidate variant. Duplicate keys are ignored.
func (e *Experiment) Condition(variant string) *Experiment {
	for _, c := range e.conditions {
		if c == variant {
			return e
		}
	}
	e.conditions = append(e.conditions, variant)
	return e
}

// SelectOption forces a variant, bypassing assignment when the forced key is
// a declared condition. Used for QA and preview links.
func (e *Experiment) SelectOption(variant string) *Experiment {
	e.forced = variant
	return e
}

// Track resolves the variant for this experiment against the given goal and
// returns it. Resolution order: a forced variant that is still a declared
// condition, then the sticky prior assignment, then a fresh weighted draw.
// The result is stable for the lifetime of the builder.
func (e *Experiment) Track(goal string) string {
	s := e.session
	s.mu.Lock()
	defer s.mu.Unlock()

	e.goal = goal
	if e.tracked {
		return e.fired
	}
	e.tracked = true

	if e.forced != "" {
		for _, c := range e.conditions {
			if c == e.forced {
				e.fired = e.forced
				return e.fired
			}
		}
	}

	e.fired = assign.Assign(e.conditions, s.prior[e.name], s.rng)
	return e.fired
}

// Variant returns the resolved variant, or "" before Track runs.
func (e *Experiment) Variant() string {
	return e.fired
}

// ActiveTests lists every tracked experiment with its resolved variant.
func (s *Session) ActiveTests() []ActiveTest {
	s.mu.Lock()
	defer s.mu.Unlock()

	tests := make([]ActiveTest, 0, len(s.tests))
	for _, t := range s.tests {
		if !t.tracked {
			continue
		}
		tests = append(tests, ActiveTest{
			Experiment: t.name,
			Variant:    t.fired,
			Goal:       t.goal,
		})
	}
	return tests
}

// Flush persists every tracked exposure through the pipeline and folds the
// results into the sticky state, so later experiments in the same session see
// them as priors. Flushing twice is harmless: already-flushed exposures are
// idempotent at the storage layer and the pending list resets.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := make([]pipeline.PendingExposure, 0, len(s.tests))
	for _, t := range s.tests {
		if !t.tracked {
			continue
		}
		pending = append(pending, pipeline.PendingExposure{
			Experiment: t.name,
			Goal:       t.goal,
			Fired:      t.fired,
		})
	}
	s.mu.Unlock()

	if err := s.manager.pipeline.RecordExposures(ctx, s.instance, pending); err != nil {
		return err
	}

	s.mu.Lock()
	for _, exp := range pending {
		s.prior[exp.Experiment] = exp.Fired
	}
	s.tests = s.tests[:0]
	s.mu.Unlock()
	return nil
}

// Goal records a conversion for this session's instance.
func (s *Session) Goal(ctx context.Context, goal string, value *string) (*storage.Goal, error) {
	return s.manager.pipeline.RecordGoal(ctx, s.instance, goal, value)
}
