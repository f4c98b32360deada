package ucg

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/coles-systems/ucg/log"
)

// PlannerComponent is a pluggable planning strategy registered with a
// Context (spec §4.1). Component names are prefix-matched against a
// collective request's preferred-planner hint; the built-in planner
// (package ucg/builtin) registers under the name "builtin".
//
// The source gives each component a global state region and, per group, a
// group state region, both sized at registration and laid out by pointer
// arithmetic off the context/group handle. Go has no equivalent need for
// manual layout, so Init/Create return and receive an opaque any instead of
// a byte range; PlannerState on Group plays the same "state lives next to
// the object it was created for" role their cache-line-aligned placement
// did.
type PlannerComponent interface {
	// Name is prefix-matched against a request's preferred-planner hint.
	Name() string
	// Init is called once per Context, after registration; it returns
	// whatever global state the component needs across every group.
	Init(cfg Config) (globalState any, err error)
	// Finalize releases resources Init acquired.
	Finalize(globalState any)
	// Create is called when a group first needs this planner's services;
	// it returns per-group state, retrieved later via Group.PlannerState.
	Create(globalState any, group *Group) (groupState any, err error)
	// Destroy releases resources Create acquired for one group.
	Destroy(groupState any)
}

type registeredPlanner struct {
	component   PlannerComponent
	globalState any
	amID        uint8
}

// Context is the process-wide registry of planner components (spec §4.1):
// it enumerates registered planners, queries each for its descriptors, and
// negotiates a unique active-message id per planner from the transport's
// available identifier space.
type Context struct {
	mutex    sync.Mutex
	cfg      Config
	log      log.Logger
	planners []*registeredPlanner
	byName   map[string]*registeredPlanner
	nextAM   uint8
	reserved map[uint8]bool
}

// NewContext validates cfg and returns an empty registry. Pass a nil
// Logger to use log.Nil{} (the default everywhere in this module, the same
// role Pool.log() plays for a *bgp.Pool with no Logger set).
func NewContext(cfg Config, logger log.Logger) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Nil{}
	}
	return &Context{
		cfg:      cfg,
		log:      logger,
		byName:   make(map[string]*registeredPlanner),
		reserved: make(map[uint8]bool),
	}, nil
}

// Register adds a planner component, runs its Init, and assigns it the
// lowest unreserved active-message id (spec §4.1: "a unique AM identifier
// is chosen from the transport's available identifier space, skipping IDs
// already bound by the transport").
func (c *Context) Register(component PlannerComponent, reservedAMIDs ...uint8) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	name := component.Name()
	if name == "" {
		return NewError("Context.Register", KindInvalidParameter, fmt.Errorf("planner component name must not be empty"))
	}
	if _, exists := c.byName[name]; exists {
		return NewError("Context.Register", KindInvalidParameter, fmt.Errorf("planner %q already registered", name))
	}

	for _, id := range reservedAMIDs {
		c.reserved[id] = true
	}

	global, err := component.Init(c.cfg)
	if err != nil {
		return NewError("Context.Register", KindInvalidParameter, err)
	}

	amID := c.allocateAMID()

	rp := &registeredPlanner{component: component, globalState: global, amID: amID}
	c.planners = append(c.planners, rp)
	c.byName[name] = rp

	c.log.NOTICE("context", log.KV{"event": "planner-registered", "name": name, "am_id": amID})

	return nil
}

func (c *Context) allocateAMID() uint8 {
	for c.reserved[c.nextAM] {
		c.nextAM++
	}
	id := c.nextAM
	c.reserved[id] = true
	c.nextAM++
	return id
}

// Lookup resolves a preferred-planner hint to a registered component by
// longest-prefix match, the way spec §4.1 describes name matching. An
// empty hint matches the first-registered planner.
func (c *Context) Lookup(hint string) (PlannerComponent, uint8, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if hint == "" && len(c.planners) > 0 {
		p := c.planners[0]
		return p.component, p.amID, true
	}

	var best *registeredPlanner
	bestLen := -1
	for _, p := range c.planners {
		name := p.component.Name()
		if strings.HasPrefix(hint, name) && len(name) > bestLen {
			best = p
			bestLen = len(name)
		}
	}
	if best == nil {
		return nil, 0, false
	}
	return best.component, best.amID, true
}

// CreateGroupState invokes every registered planner's Create for group,
// storing the result under Group.PlannerState so later lookups are O(1).
// It stops at the first failure and does not roll back planners that
// already succeeded; callers destroying a partially-initialized group
// should call DestroyGroupState, which is safe to call on any subset.
func (c *Context) CreateGroupState(group *Group) error {
	c.mutex.Lock()
	planners := append([]*registeredPlanner(nil), c.planners...)
	c.mutex.Unlock()

	for _, p := range planners {
		name := p.component.Name()
		state, err := p.component.Create(p.globalState, group)
		if err != nil {
			return NewError("Context.CreateGroupState", KindInvalidParameter, fmt.Errorf("planner %q: %w", name, err))
		}
		group.PlannerState(name, func() any { return state })
	}
	return nil
}

// DestroyGroupState runs every registered planner's Destroy against
// whatever state group.PlannerState holds for it.
func (c *Context) DestroyGroupState(group *Group) {
	c.mutex.Lock()
	planners := append([]*registeredPlanner(nil), c.planners...)
	c.mutex.Unlock()

	for _, p := range planners {
		name := p.component.Name()
		if v, ok := group.plannerMem.Load(name); ok {
			p.component.Destroy(v)
		}
	}
}

// PlannerInfo is a read-only snapshot of one registered planner, used by
// Planners() and cmd/ucgdemo's status dump (supplementing
// ucg_plan_query_resources/ucg_plan_print_info from original_source/base/ucg_plan.c,
// which the distilled spec never describes).
type PlannerInfo struct {
	Name string
	AMID uint8
}

// Planners returns every registered planner, sorted by name.
func (c *Context) Planners() []PlannerInfo {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	out := make([]PlannerInfo, 0, len(c.planners))
	for _, p := range c.planners {
		out = append(out, PlannerInfo{Name: p.component.Name(), AMID: p.amID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// String renders a one-line summary of the registry, for log lines and the
// demo binary's status dump.
func (c *Context) String() string {
	infos := c.Planners()
	names := make([]string, len(infos))
	for i, p := range infos {
		names[i] = fmt.Sprintf("%s(am=%d)", p.Name, p.AMID)
	}
	return fmt.Sprintf("Context{planners=[%s]}", strings.Join(names, ", "))
}

// Finalize runs every registered planner's Finalize. The Context must not
// be used afterward.
func (c *Context) Finalize() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, p := range c.planners {
		p.component.Finalize(p.globalState)
	}
	c.planners = nil
	c.byName = map[string]*registeredPlanner{}
}
