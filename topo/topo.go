/*
 * UCG collective communication engine.
 */

// Package topo derives the intra-host and inter-host trees the built-in
// planner's phase synthesis walks, grounded in
// original_source/builtin/plan/builtin_tree.c and builtin_topo_info.c.
//
// The source expresses a tree as host/net up/down member-index arrays
// threaded through a single connect routine; this package instead returns a
// plain Tree value (parent + children per level) and leaves phase synthesis
// (reduce-terminal vs. reduce-waypoint, etc.) to ucg/builtin, which already
// owns the method-selection decision.
package topo

import (
	"sort"

	"github.com/coles-systems/ucg"
)

// Distance re-exports ucg.Distance: topo works entirely in terms of the
// root package's distance enumeration so a Group's Distance(j) can be fed
// directly into Build.
type Distance = ucg.Distance

const (
	Self    = ucg.Self
	Socket  = ucg.Socket
	Host    = ucg.Host
	Net     = ucg.Net
	Cluster = ucg.Cluster
	Unknown = ucg.Unknown
)

// Level is one tier of the combined intra/inter-host tree.
type Level struct {
	Parent   int   // member index of this level's parent, or -1 at the root
	Children []int // member indices of this level's children, ascending
}

// Tree is the full fan-in/fan-out shape derived for one member of a group,
// ordered from finest level (intra-host) to coarsest (inter-host).
type Tree struct {
	Levels []Level
}

// Config holds the two tunables spec §6 names: tree.radix and
// tree.sock_thresh.
type Config struct {
	Radix      int // default 8: inter-host fan-in/out degree
	SockThresh int // default 16: PPN threshold, flat vs two-level intra-host
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{Radix: 8, SockThresh: 16}
}

// Build derives the tree rooted at root for member me, given dist (the
// distance of every member from me; dist[me] counts like any other entry,
// so it must be at most Host, normally Self, for me to be among its own
// host's members) and a same-host/same-socket oracle. Member indices are the half-open range
// [0, len(dist)).
//
// Non-zero root adjustment (spec §4.2 step 4) is applied at the coarsest
// level only, matching the source: the requested root displaces member 0
// in that level's child list, or — if "me" is the root — member 0 is added
// as an extra child of the root.
func Build(cfg Config, me, root int, dist []Distance, sameHost, sameSocket func(a, b int) bool) (Tree, error) {
	n := len(dist)
	if me < 0 || me >= n || root < 0 || root >= n {
		return Tree{}, ErrInvalidParameter
	}

	hostMembers := membersAtMost(dist, Host)
	levels := make([]Level, 0, 2)

	if lvl, ok := intraHost(cfg, me, hostMembers, sameSocket); ok {
		levels = append(levels, lvl)
	}

	// Host masters span every host in the group, not just mine: hostMembers
	// is already restricted to peers within Host distance of "me" (i.e. my
	// own host), so deriving masters from it could only ever find one.
	allMembers := make([]int, n)
	for i := range allMembers {
		allMembers[i] = i
	}
	hostMasters := hostMasterSet(allMembers, sameHost)
	if len(hostMasters) > 1 {
		lvl, err := interHost(cfg, me, hostMasters)
		if err != nil {
			return Tree{}, err
		}
		levels = append(levels, lvl)
	}

	if len(levels) == 0 {
		levels = append(levels, Level{Parent: -1})
	}

	applyRootAdjustment(&levels[len(levels)-1], me, root)

	return Tree{Levels: levels}, nil
}

// membersAtMost returns, in ascending order, every member index whose
// distance from "me" is at most d (Self is always included via the caller's
// own index elsewhere; dist carries every member including self).
func membersAtMost(dist []Distance, d Distance) []int {
	out := make([]int, 0, len(dist))
	for i, v := range dist {
		if v != Unknown && v <= d {
			out = append(out, i)
		}
	}
	return out
}

// intraHost builds the local tree among hostMembers (everyone within Host
// distance, including me). Below the configured PPN threshold a single flat
// level is used; at or above it, a two-level socket-then-host tree, with the
// smallest-indexed eligible member at each level chosen as parent (spec
// §4.2 step 2: "among equally eligible parents the smallest member index
// wins"). Both tiers are folded into me's one Level: a socket master's
// Children are its socket peers plus, on the host master, the other socket
// masters, and its Parent is the host master.
func intraHost(cfg Config, me int, hostMembers []int, sameSocket func(a, b int) bool) (Level, bool) {
	if len(hostMembers) <= 1 {
		return Level{}, false
	}

	if len(hostMembers) < cfg.SockThresh || sameSocket == nil {
		return flatParentChildren(me, hostMembers), true
	}

	var socketPeers []int
	for _, m := range hostMembers {
		if m != me && sameSocket(me, m) {
			socketPeers = append(socketPeers, m)
		}
	}
	if len(socketPeers) == 0 {
		return flatParentChildren(me, hostMembers), true
	}
	all := append([]int{me}, socketPeers...)
	lvl := flatParentChildren(me, all)
	if lvl.Parent != -1 {
		return lvl, true
	}
	// me masters its socket: join the host tier over the socket masters.
	host := flatParentChildren(me, hostMasterSet(hostMembers, sameSocket))
	lvl.Parent = host.Parent
	lvl.Children = append(lvl.Children, host.Children...)
	sort.Ints(lvl.Children)
	return lvl, true
}

// flatParentChildren elects the smallest member of peers as parent; every
// other member of peers is a child of that parent. me's own Level reflects
// its role: if me is the elected parent, Children holds everyone else and
// Parent is -1; otherwise Children is empty and Parent is the elected
// member.
func flatParentChildren(me int, peers []int) Level {
	sorted := append([]int(nil), peers...)
	sort.Ints(sorted)
	parent := sorted[0]

	if parent == me {
		children := make([]int, 0, len(sorted)-1)
		for _, m := range sorted[1:] {
			if m != me {
				children = append(children, m)
			}
		}
		return Level{Parent: -1, Children: children}
	}
	return Level{Parent: parent}
}

// hostMasterSet reduces hostMembers to one representative per group that
// sameHost places together: the smallest member index of each group. Build
// passes every member of the group, so the result has one master per host;
// intraHost passes one host's members with a same-socket oracle, for one
// master per socket. A nil sameHost makes every member its own master.
func hostMasterSet(hostMembers []int, sameHost func(a, b int) bool) []int {
	if sameHost == nil {
		return hostMembers
	}
	var masters []int
	assigned := make(map[int]bool)
	for _, m := range hostMembers {
		if assigned[m] {
			continue
		}
		group := []int{m}
		for _, o := range hostMembers {
			if o != m && !assigned[o] && sameHost(m, o) {
				group = append(group, o)
				assigned[o] = true
			}
		}
		assigned[m] = true
		sort.Ints(group)
		masters = append(masters, group[0])
	}
	sort.Ints(masters)
	return masters
}

// interHost lays out a radix-R tree over the host masters, treated as a
// linear address space (spec §4.2 step 3). Master i's parent is master
// (i-1)/R; its children are masters j such that (j-1)/R == i.
func interHost(cfg Config, me int, masters []int) (Level, error) {
	idx := -1
	for i, m := range masters {
		if m == me {
			idx = i
			break
		}
	}
	if idx < 0 {
		// me is not a host master on this level; nothing to do here.
		return Level{Parent: -1}, nil
	}

	var parent = -1
	if idx > 0 {
		parent = masters[(idx-1)/cfg.Radix]
	}

	var children []int
	for j := idx + 1; j < len(masters); j++ {
		if (j-1)/cfg.Radix == idx {
			children = append(children, masters[j])
		}
	}
	if len(children) > cfg.Radix {
		return Level{}, ErrBufferTooSmall
	}

	return Level{Parent: parent, Children: children}, nil
}

// applyRootAdjustment implements spec §4.2 step 4 on the coarsest level.
func applyRootAdjustment(top *Level, me, root int) {
	if root == 0 {
		return
	}

	if me == root {
		// "me" is the requested root: the zero-member becomes an
		// additional child at the root.
		if top.Parent == -1 {
			top.Children = append(top.Children, 0)
			sort.Ints(top.Children)
		}
		return
	}

	if top.Parent == 0 {
		top.Parent = root
		return
	}
	for i, c := range top.Children {
		if c == 0 {
			top.Children[i] = root
			sort.Ints(top.Children)
			return
		}
	}
}
