package ledger

import (
	"github.com/coachpo/takt/errs"
)

// System is a unit of per-tick behaviour. Components lists the columns the
// system reads; they drive change tracking and are prepared before Update
// runs (missing numeric columns are created, anything else is an error).
type System interface {
	Name() string
	Components() []Key
	Update(l *Ledger) error
}

// Stage is an ordered group of systems run together during a tick.
type Stage struct {
	name    string
	systems []System
}

// Name returns the stage name.
func (s *Stage) Name() string { return s.name }

// Systems returns the systems in declared order.
func (s *Stage) Systems() []System { return s.systems }

// AddStage appends an empty stage, returning the existing one on name reuse.
func (l *Ledger) AddStage(name string) *Stage {
	if st := l.stage(name); st != nil {
		return st
	}
	st := &Stage{name: name, systems: nil}
	l.stages = append(l.stages, st)
	return st
}

// InsertStageBefore places a new stage immediately before the named anchor,
// appending when the anchor does not exist.
func (l *Ledger) InsertStageBefore(name, anchor string) *Stage {
	if st := l.stage(name); st != nil {
		return st
	}
	st := &Stage{name: name, systems: nil}
	for i, existing := range l.stages {
		if existing.name == anchor {
			l.stages = append(l.stages[:i], append([]*Stage{st}, l.stages[i:]...)...)
			return st
		}
	}
	l.stages = append(l.stages, st)
	return st
}

// AddSystem appends a system to the named stage, creating the stage when
// absent. Systems deduplicate by name: a second add of the same name is a
// no-op, which keeps solver re-runs idempotent.
func (l *Ledger) AddSystem(stage string, sys System) {
	st := l.AddStage(stage)
	for _, existing := range st.systems {
		if existing.Name() == sys.Name() {
			return
		}
	}
	st.systems = append(st.systems, sys)
}

// HasSystem reports whether any stage carries a system with the given name.
func (l *Ledger) HasSystem(name string) bool {
	for _, st := range l.stages {
		for _, sys := range st.systems {
			if sys.Name() == name {
				return true
			}
		}
	}
	return false
}

// Stages returns the stages in execution order.
func (l *Ledger) Stages() []*Stage { return l.stages }

func (l *Ledger) stage(name string) *Stage {
	for _, st := range l.stages {
		if st.name == name {
			return st
		}
	}
	return nil
}

// RunStage executes one stage's systems in declared order. The first system
// error aborts the stage.
func (l *Ledger) RunStage(name string) error {
	st := l.stage(name)
	if st == nil {
		return nil
	}
	for _, sys := range st.systems {
		if err := l.ensureRequested(sys); err != nil {
			return err
		}
		if err := sys.Update(l); err != nil {
			return errs.New("ledger.stage", errs.CodeInternal,
				errs.WithMessage("system "+sys.Name()+" failed in stage "+name),
				errs.WithCause(err))
		}
	}
	return nil
}

// RunTick executes every stage in declared order.
func (l *Ledger) RunTick() error {
	for _, st := range l.stages {
		if err := l.RunStage(st.name); err != nil {
			return err
		}
	}
	return nil
}
