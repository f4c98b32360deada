package ucg

import (
	"fmt"
	"sync"

	"github.com/rs/xid"

	"github.com/coles-systems/ucg/transport"
	"github.com/coles-systems/ucg/wire"
)

// Distance is a totally ordered closeness value between two group members,
// finest (Self) to coarsest (Cluster), with a distinguished Unknown (spec
// §3: "distance values form a totally ordered enumeration from self
// (finest) to cluster (coarsest), with a distinguished unknown").
type Distance uint8

const (
	Self Distance = iota
	Socket
	Host
	Net
	Cluster
	Unknown Distance = 0xFF
)

func (d Distance) String() string {
	switch d {
	case Self:
		return "self"
	case Socket:
		return "socket"
	case Host:
		return "host"
	case Net:
		return "net"
	case Cluster:
		return "cluster"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("distance(%d)", uint8(d))
	}
}

// DistanceModel answers "how far is member j from member i" for one group.
// The source supports four shapes (fixed scalar, 1-D array, 2-D matrix, a
// per-level placement vector set); this interface accommodates all of them
// uniformly, and the four constructors below are the concrete shapes a
// caller actually builds.
type DistanceModel interface {
	// Distance returns the distance from member i to member j.
	Distance(i, j int) Distance
}

// UniformDistance reports the same distance between any two distinct
// members, regardless of which two.
type UniformDistance Distance

func (u UniformDistance) Distance(i, j int) Distance {
	if i == j {
		return Self
	}
	return Distance(u)
}

// ArrayDistance reports Values[j] as member i's (fixed) view of j — the
// source's 1-D distance array, one entry per member as seen from a single
// fixed vantage point (spec §3: "the distance model, if an array, has
// exactly member_count entries, with the entry at my_index equal to the
// none/self distance").
type ArrayDistance struct {
	Values []Distance
}

func (a ArrayDistance) Distance(i, j int) Distance {
	if i == j {
		return Self
	}
	if j < 0 || j >= len(a.Values) {
		return Unknown
	}
	return a.Values[j]
}

// MatrixDistance is the symmetric N×N table: Rows[i][j] == Rows[j][i].
type MatrixDistance struct {
	Rows [][]Distance
}

func (m MatrixDistance) Distance(i, j int) Distance {
	if i == j {
		return Self
	}
	if i < 0 || i >= len(m.Rows) || j < 0 || j >= len(m.Rows[i]) {
		return Unknown
	}
	return m.Rows[i][j]
}

// PlacementDistance derives distance from a per-level placement vector set:
// two members are at the distance of the finest level where their placement
// ids match, or Cluster if they differ at every level, matching a leveled
// tree position rather than an explicit table.
type PlacementDistance struct {
	// Levels is ordered finest first (e.g. [socket-id, host-id]); member i
	// and j share Distance(level) iff Levels[level][i] == Levels[level][j].
	Levels [][]int
}

func (p PlacementDistance) Distance(i, j int) Distance {
	if i == j {
		return Self
	}
	for lvl, ids := range p.Levels {
		if i < len(ids) && j < len(ids) && ids[i] == ids[j] {
			return distanceAtLevel(lvl)
		}
	}
	return Cluster
}

func distanceAtLevel(lvl int) Distance {
	switch lvl {
	case 0:
		return Socket
	case 1:
		return Host
	case 2:
		return Net
	default:
		return Cluster
	}
}

// endpointCaches holds the three lazily-populated caches spec §3 names:
// p2p, bcast, and a small sequence of incast caches keyed by reduction
// signature. An endpoint appearing in bcast is also linked from the
// matching incast cache entry, since they share the underlying connection.
type endpointCaches struct {
	mutex  sync.Mutex
	p2p    map[int]transport.Endpoint
	bcast  map[int]transport.Endpoint
	incast map[wire.IncastSignature]map[int]transport.Endpoint
}

func newEndpointCaches() *endpointCaches {
	return &endpointCaches{
		p2p:    make(map[int]transport.Endpoint),
		bcast:  make(map[int]transport.Endpoint),
		incast: make(map[wire.IncastSignature]map[int]transport.Endpoint),
	}
}

func (c *endpointCaches) p2pLookup(member int) (transport.Endpoint, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ep, ok := c.p2p[member]
	return ep, ok
}

// p2pStore inserts ep for member idempotently: if an entry already exists
// for member, it is left untouched and ok=false (spec §3: "insertion is
// idempotent under the same key").
func (c *endpointCaches) p2pStore(member int, ep transport.Endpoint) (transport.Endpoint, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if existing, ok := c.p2p[member]; ok {
		return existing, false
	}
	c.p2p[member] = ep
	return ep, true
}

func (c *endpointCaches) bcastLookup(member int) (transport.Endpoint, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ep, ok := c.bcast[member]
	return ep, ok
}

func (c *endpointCaches) bcastStore(member int, ep transport.Endpoint) (transport.Endpoint, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if existing, ok := c.bcast[member]; ok {
		return existing, false
	}
	c.bcast[member] = ep
	return ep, true
}

func (c *endpointCaches) incastLookup(key wire.IncastSignature, member int) (transport.Endpoint, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	byMember, ok := c.incast[key]
	if !ok {
		return nil, false
	}
	ep, ok := byMember[member]
	return ep, ok
}

// incastStore inserts ep under key/member in the incast cache, and also
// links it into the bcast cache for member if the bcast slot is still
// empty, since an incast-capable endpoint covers both lanes (spec §3).
func (c *endpointCaches) incastStore(key wire.IncastSignature, member int, ep transport.Endpoint) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	byMember, ok := c.incast[key]
	if !ok {
		byMember = make(map[int]transport.Endpoint)
		c.incast[key] = byMember
	}
	if _, exists := byMember[member]; !exists {
		byMember[member] = ep
	}
	if _, exists := c.bcast[member]; !exists {
		c.bcast[member] = ep
	}
}

// Group is an ordered set of collective participants (spec §3). Groups are
// created and destroyed collectively: every participant constructs its own
// local Group value independently, with no barrier between them.
type Group struct {
	id         string
	memberCnt  int
	myIndex    int
	distance   DistanceModel
	caches     *endpointCaches
	plannerMem sync.Map // planner name -> arbitrary per-group state
}

// NewGroup validates and constructs a Group. id is generated with xid so
// every group has a process-unique, k-sortable identifier for log
// correlation, the way sockstats tags connections with xid.New().String().
func NewGroup(memberCount, myIndex int, distance DistanceModel) (*Group, error) {
	if memberCount <= 0 {
		return nil, NewError("NewGroup", KindInvalidParameter, fmt.Errorf("member_count must be positive, got %d", memberCount))
	}
	if myIndex < 0 || myIndex >= memberCount {
		return nil, NewError("NewGroup", KindInvalidParameter, fmt.Errorf("my_index %d out of range [0,%d)", myIndex, memberCount))
	}
	if distance == nil {
		distance = UniformDistance(Host)
	}
	if a, ok := distance.(ArrayDistance); ok && (len(a.Values) != memberCount || a.Values[myIndex] != Self) {
		return nil, NewError("NewGroup", KindInvalidParameter, fmt.Errorf("distance array must have member_count entries with Self at my_index"))
	}
	if distance.Distance(myIndex, myIndex) != Self {
		return nil, NewError("NewGroup", KindInvalidParameter, fmt.Errorf("distance(my_index, my_index) must be Self"))
	}

	return &Group{
		id:        xid.New().String(),
		memberCnt: memberCount,
		myIndex:   myIndex,
		distance:  distance,
		caches:    newEndpointCaches(),
	}, nil
}

func (g *Group) ID() string       { return g.id }
func (g *Group) MemberCount() int { return g.memberCnt }
func (g *Group) MyIndex() int     { return g.myIndex }
func (g *Group) Distance(j int) Distance {
	return g.distance.Distance(g.myIndex, j)
}

// P2PLookup, P2PStore, BcastLookup, BcastStore, IncastLookup, and
// IncastStore give a Group the exact shape ucg/endpoint.Cache expects, so
// a *Group can be passed directly to endpoint.Resolver.Resolve.
// IncastStore also links the endpoint into the bcast cache when that slot
// is still empty. BcastStore writes the bcast cache only: the matching
// incast entry is keyed by a signature only the resolver has, so
// Resolver.Resolve is what links a bcast endpoint into the incast cache per
// the "an endpoint appearing in bcast is also linked from the matching
// incast cache" invariant.
func (g *Group) P2PLookup(member int) (transport.Endpoint, bool) { return g.caches.p2pLookup(member) }
func (g *Group) P2PStore(member int, ep transport.Endpoint) (transport.Endpoint, bool) {
	return g.caches.p2pStore(member, ep)
}
func (g *Group) BcastLookup(member int) (transport.Endpoint, bool) {
	return g.caches.bcastLookup(member)
}
func (g *Group) BcastStore(member int, ep transport.Endpoint) (transport.Endpoint, bool) {
	return g.caches.bcastStore(member, ep)
}
func (g *Group) IncastLookup(sig wire.IncastSignature, member int) (transport.Endpoint, bool) {
	return g.caches.incastLookup(sig, member)
}
func (g *Group) IncastStore(sig wire.IncastSignature, member int, ep transport.Endpoint) {
	g.caches.incastStore(sig, member, ep)
}

// PlannerState returns the arbitrary per-group state a planner component
// previously stored under name, creating it via init if absent (analogous
// to the source's per-planner per-group memory region, sized and placed by
// the context at group-create time; here a sync.Map slot keyed by planner
// name stands in for the pointer-arithmetic layout the C core uses).
func (g *Group) PlannerState(name string, init func() any) any {
	if v, ok := g.plannerMem.Load(name); ok {
		return v
	}
	v, _ := g.plannerMem.LoadOrStore(name, init())
	return v
}

// Destroy tears down the group's endpoint caches (spec §3: "destroyed
// collectively; endpoint caches are torn down with the group").
func (g *Group) Destroy() {
	g.caches.mutex.Lock()
	defer g.caches.mutex.Unlock()
	for _, ep := range g.caches.p2p {
		_ = ep.Close()
	}
	for _, ep := range g.caches.bcast {
		_ = ep.Close()
	}
	g.caches.p2p = map[int]transport.Endpoint{}
	g.caches.bcast = map[int]transport.Endpoint{}
	g.caches.incast = map[wire.IncastSignature]map[int]transport.Endpoint{}
}
