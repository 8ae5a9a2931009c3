package forge

import (
	"sync"

	"github.com/TheBitDrifter/bark"
)

// lockKind is the three-state component lock from §4.8, a direct port of
// the original's LockState enum (Free | Read(count) | Written).
type lockKind int

const (
	lockFree lockKind = iota
	lockRead
	lockWritten
)

type lockState struct {
	kind  lockKind
	count int
}

func (l lockState) lockable(kind ParamAccessKind) bool {
	switch kind {
	case AccessRead:
		return l.kind == lockFree || l.kind == lockRead
	case AccessWrite:
		return l.kind == lockFree
	}
	return false
}

func (l *lockState) lock(kind ParamAccessKind) {
	switch kind {
	case AccessRead:
		if l.kind == lockRead {
			l.count++
		} else {
			l.kind, l.count = lockRead, 0
		}
	case AccessWrite:
		l.kind = lockWritten
	}
}

func (l *lockState) unlock() {
	if l.kind == lockRead && l.count > 0 {
		l.count--
		return
	}
	l.kind, l.count = lockFree, 0
}

// System is a registered, type-erased system record built by AddSystem: its
// frozen access properties plus the closure that drives its own Cursor over
// the archetypes matching its declared access (§4.6, component G).
type System struct {
	onType     ComponentTypeIdx
	action     ActionIdx
	properties ParamProperties
	run        func(sto *storage) error
}

// autoAction is the action tag a system gets when AddSystem is called with
// a nil action: each &autoAction{} has its own address, so unlike a
// zero-sized marker it is guaranteed distinct from every other system's
// auto-assigned action.
type autoAction struct{ _ byte }

// ComponentDone names the implicit terminal action shared by every system
// registered on component type C (§4.7): pass it to DependsOn to order an
// action after every system attached to C has completed in the phase.
type ComponentDone struct {
	Component Component
}

type actionDependency struct {
	action any
	on     []any
}

// SchedulerBuilder accumulates system registrations and action-dependency
// declarations, resolving both against a concrete Storage at Build time
// (component H and I's registration stage).
type SchedulerBuilder struct {
	threadCount uint32
	templates   []func(sto *storage, actions *actionRegistry) System
	deps        []actionDependency
}

// NewSchedulerBuilder starts a builder with the given worker-thread count,
// clamped per §4.8 (0 raised to 1, over-capacity capped at NumCPU).
func NewSchedulerBuilder(threadCount uint32) *SchedulerBuilder {
	return &SchedulerBuilder{threadCount: clampThreadCount(threadCount)}
}

// AddSystem registers a system attached to onType (its "main" component
// type, the one every matching archetype must carry) running under action,
// with parameter param driving fn once per phase via its own Cursor. A nil
// action registers the system under an action unique to it, i.e. with no
// declared predecessors beyond those any other DependsOn call adds
// explicitly.
func AddSystem[P SystemParam](b *SchedulerBuilder, onType Component, action any, param P, fn func(P, *Cursor) error) *SchedulerBuilder {
	if action == nil {
		action = &autoAction{}
	}
	b.templates = append(b.templates, func(sto *storage, actions *actionRegistry) System {
		t := sto.reg.register(onType)
		actionIdx := actions.register(action)
		props := param.Properties(sto)
		required := requiredTypes(props)
		hasType := false
		for _, r := range required {
			if r == t {
				hasType = true
				break
			}
		}
		if !hasType {
			required = append(required, t)
		}
		return System{
			onType:     t,
			action:     actionIdx,
			properties: props,
			run: func(sto *storage) error {
				for _, singleton := range props.Singletons {
					if !sto.singletonExists(singleton) {
						return nil
					}
				}
				cursor := newFilteredCursor(sto, required)
				return fn(param, cursor)
			},
		}
	})
	return b
}

// DependsOn declares that action must wait for every action in on to
// complete before any system registered under it may start (§4.7). A
// member of on may be a ComponentDone value naming a component type's
// implicit terminal action instead of a user action tag. Cycles are
// rejected at Build time with CyclicActionError.
func (b *SchedulerBuilder) DependsOn(action any, on ...any) *SchedulerBuilder {
	b.deps = append(b.deps, actionDependency{action: action, on: on})
	return b
}

// Scheduler is the built, immutable dispatch engine for one App: a frozen
// system list, their predecessor sets, and a worker pool sized at build
// time (§4.8, component I).
type Scheduler struct {
	threadCount  uint32
	systems      []System
	predecessors [][]ActionIdx
	doneOf       []ActionIdx // per system: the component's synthetic action it contributes to
	byComponent  map[ComponentTypeIdx][]SystemIdx
	actionCount  map[ActionIdx]int // how many systems share each resolved action
}

// Build materializes every registered system and dependency against sto,
// resolving action tags to ActionIdx and flattening the action DAG into a
// predecessor set per system (§4.7's "flattens this into, for each system
// s, a set predecessors(s)").
func (b *SchedulerBuilder) Build(sto Storage) (*Scheduler, error) {
	s := sto.(*storage)
	actions := newActionRegistry()
	systems := make([]System, len(b.templates))
	for i, tmpl := range b.templates {
		systems[i] = tmpl(s, actions)
	}
	for _, d := range b.deps {
		action := resolveAction(s, actions, d.action)
		on := make([]ActionIdx, len(d.on))
		for i, tag := range d.on {
			on[i] = resolveAction(s, actions, tag)
		}
		if err := actions.dependsOn(action, on...); err != nil {
			return nil, err
		}
	}
	byComponent := make(map[ComponentTypeIdx][]SystemIdx)
	actionCount := make(map[ActionIdx]int)
	for i, sys := range systems {
		byComponent[sys.onType] = append(byComponent[sys.onType], SystemIdx(i))
		actionCount[sys.action]++
	}
	predecessors := make([][]ActionIdx, len(systems))
	doneOf := make([]ActionIdx, len(systems))
	for i, sys := range systems {
		predecessors[i] = actions.predecessors(sys.action)
		doneOf[i] = actions.componentDone(sys.onType)
	}
	return &Scheduler{
		threadCount:  b.threadCount,
		systems:      systems,
		predecessors: predecessors,
		doneOf:       doneOf,
		byComponent:  byComponent,
		actionCount:  actionCount,
	}, nil
}

// resolveAction maps a user-facing action tag to its ActionIdx, special
// casing ComponentDone since its identity is the component type, not the
// tag's reflected Go type.
func resolveAction(sto *storage, actions *actionRegistry, tag any) ActionIdx {
	if cd, ok := tag.(ComponentDone); ok {
		t := sto.reg.register(cd.Component)
		return actions.componentDone(t)
	}
	return actions.register(tag)
}

// phaseState is the per-update mutable dispatch state (§4.8's "per-phase
// state"): component lock states, the global structural lock, which
// systems remain, and which actions have completed so far.
type phaseState struct {
	mu                 sync.Mutex
	cond               *sync.Cond
	componentLk        map[ComponentTypeIdx]*lockState
	globalLk           lockState
	remaining          []SystemIdx
	running            int
	completed          map[ActionIdx]bool
	componentRemaining map[ComponentTypeIdx]int
	actionRemaining    map[ActionIdx]int
	err                error
	panicVal           any // first panic recovered from a system this phase
}

// Run executes one phase: it locks storage for the duration, dispatches
// every system across the scheduler's worker pool honoring predecessor
// and access-conflict constraints, then unlocks storage so the
// structural-change queue applies in issue order (§4.5, §4.8).
func (sch *Scheduler) Run(sto Storage) error {
	s := sto.(*storage)
	s.Lock()
	defer s.Unlock()

	ps := &phaseState{
		componentLk:        make(map[ComponentTypeIdx]*lockState),
		remaining:          make([]SystemIdx, len(sch.systems)),
		completed:          make(map[ActionIdx]bool),
		componentRemaining: make(map[ComponentTypeIdx]int, len(sch.byComponent)),
		actionRemaining:    make(map[ActionIdx]int, len(sch.actionCount)),
	}
	ps.cond = sync.NewCond(&ps.mu)
	for i := range sch.systems {
		ps.remaining[i] = SystemIdx(i)
	}
	for t, sysList := range sch.byComponent {
		ps.componentRemaining[t] = len(sysList)
	}
	for action, count := range sch.actionCount {
		ps.actionRemaining[action] = count
	}

	workers := int(sch.threadCount)
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	wg.Add(workers - 1)
	for i := 0; i < workers-1; i++ {
		go func() {
			defer wg.Done()
			sch.runWorker(s, ps)
		}()
	}
	sch.runWorker(s, ps)
	wg.Wait()

	if ps.panicVal != nil {
		panic(bark.AddTrace(PhaseAbortedError{Recovered: ps.panicVal}))
	}

	return ps.err
}

// runWorker implements §4.8's dispatch loop: under the shared mutex, find
// the first remaining system whose predecessors are complete and whose
// declared access is currently lockable; lock it, release the mutex, run
// it, then re-acquire the mutex to unlock and mark it completed.
func (sch *Scheduler) runWorker(s *storage, ps *phaseState) {
	ps.mu.Lock()
	for {
		if len(ps.remaining) == 0 && ps.running == 0 {
			ps.cond.Broadcast()
			ps.mu.Unlock()
			return
		}
		idx, pos, ok := sch.findDispatchable(ps)
		if !ok {
			if len(ps.remaining) == 0 {
				ps.mu.Unlock()
				return
			}
			ps.cond.Wait()
			continue
		}
		ps.remaining = append(ps.remaining[:pos], ps.remaining[pos+1:]...)
		sch.acquire(ps, idx)
		ps.running++
		ps.mu.Unlock()

		err, recovered := sch.runSystem(idx, s)

		ps.mu.Lock()
		sch.release(ps, idx)
		ps.running--
		if recovered != nil {
			if ps.panicVal == nil {
				ps.panicVal = recovered
			}
		} else if err != nil && ps.err == nil {
			ps.err = err
		}
		sys := sch.systems[idx]
		ps.actionRemaining[sys.action]--
		if ps.actionRemaining[sys.action] == 0 {
			ps.completed[sys.action] = true
		}
		ps.componentRemaining[sys.onType]--
		if ps.componentRemaining[sys.onType] == 0 {
			ps.completed[sch.doneOf[idx]] = true
		}
		ps.cond.Broadcast()
	}
}

// runSystem runs one system with its own panic recovered, so a panicking
// system unwinds only its own call frame: its locks are still released by
// the caller and the rest of the phase's dispatchable systems still run
// (§7). The recovered value, if any, is returned separately from err so the
// caller can tell a normal error return apart from a panic.
func (sch *Scheduler) runSystem(idx SystemIdx, s *storage) (err error, recovered any) {
	defer func() {
		if r := recover(); r != nil {
			recovered = r
		}
	}()
	err = sch.systems[idx].run(s)
	return err, nil
}

func (sch *Scheduler) findDispatchable(ps *phaseState) (SystemIdx, int, bool) {
	for pos, idx := range ps.remaining {
		sys := sch.systems[idx]
		if !sch.predecessorsComplete(ps, idx) {
			continue
		}
		if sys.properties.Structural && ps.globalLk.kind != lockFree {
			continue
		}
		if sch.accessLockable(ps, sys) {
			return idx, pos, true
		}
	}
	return 0, 0, false
}

func (sch *Scheduler) predecessorsComplete(ps *phaseState, idx SystemIdx) bool {
	for _, a := range sch.predecessors[idx] {
		if !ps.completed[a] {
			return false
		}
	}
	return true
}

func (sch *Scheduler) accessLockable(ps *phaseState, sys System) bool {
	for _, a := range sys.properties.Access {
		lk := ps.componentLk[a.Type]
		if lk == nil {
			lk = &lockState{}
			ps.componentLk[a.Type] = lk
		}
		if !lk.lockable(a.Kind) {
			return false
		}
	}
	return true
}

func (sch *Scheduler) acquire(ps *phaseState, idx SystemIdx) {
	sys := sch.systems[idx]
	for _, a := range sys.properties.Access {
		ps.componentLk[a.Type].lock(a.Kind)
	}
	if sys.properties.Structural {
		ps.globalLk.lock(AccessWrite)
	}
}

func (sch *Scheduler) release(ps *phaseState, idx SystemIdx) {
	sys := sch.systems[idx]
	for _, a := range sys.properties.Access {
		ps.componentLk[a.Type].unlock()
	}
	if sys.properties.Structural {
		ps.globalLk.unlock()
	}
}
