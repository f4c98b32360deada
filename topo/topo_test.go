package topo

import "testing"

func uniform(n int, self int, d Distance) []Distance {
	out := make([]Distance, n)
	for i := range out {
		if i == self {
			out[i] = Self
		} else {
			out[i] = d
		}
	}
	return out
}

func TestBuildUniformHostFlat(t *testing.T) {
	// 4 members, all on one host: member 0 is the elected flat parent.
	dist := uniform(4, 0, Host)
	cfg := DefaultConfig()

	tree, err := Build(cfg, 0, 0, dist, func(a, b int) bool { return true }, func(a, b int) bool { return false })
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(tree.Levels) != 1 {
		t.Fatalf("expected 1 level for a single host, got %d", len(tree.Levels))
	}
	top := tree.Levels[0]
	if top.Parent != -1 {
		t.Fatalf("member 0 should be root of its host tree, got parent %d", top.Parent)
	}
	if len(top.Children) != 3 {
		t.Fatalf("expected 3 children, got %v", top.Children)
	}
}

func TestBuildUniformHostChild(t *testing.T) {
	dist := uniform(4, 2, Host)
	cfg := DefaultConfig()

	tree, err := Build(cfg, 2, 0, dist, func(a, b int) bool { return true }, func(a, b int) bool { return false })
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	top := tree.Levels[0]
	if top.Parent != 0 {
		t.Fatalf("expected member 2's parent to be 0, got %d", top.Parent)
	}
	if len(top.Children) != 0 {
		t.Fatalf("a non-elected member should have no children, got %v", top.Children)
	}
}

func TestBuildInvalidMember(t *testing.T) {
	dist := uniform(4, 0, Host)
	if _, err := Build(DefaultConfig(), 9, 0, dist, nil, nil); err != ErrInvalidParameter {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestInterHostRadix(t *testing.T) {
	// 10 hosts, radix 2: master index 0 has children at positions 1,2;
	// master index 1 has children at positions 3,4; etc.
	masters := []int{0, 10, 20, 30, 40, 50, 60, 70, 80, 90}
	lvl, err := interHost(Config{Radix: 2}, 10, masters)
	if err != nil {
		t.Fatalf("interHost: %v", err)
	}
	if lvl.Parent != 0 {
		t.Fatalf("expected parent 0, got %d", lvl.Parent)
	}
	if len(lvl.Children) != 2 || lvl.Children[0] != 30 || lvl.Children[1] != 40 {
		t.Fatalf("unexpected children: %v", lvl.Children)
	}
}

func TestInterHostRootHasNoParent(t *testing.T) {
	masters := []int{0, 10, 20}
	lvl, err := interHost(Config{Radix: 8}, 0, masters)
	if err != nil {
		t.Fatalf("interHost: %v", err)
	}
	if lvl.Parent != -1 {
		t.Fatalf("root master should have no parent, got %d", lvl.Parent)
	}
	if len(lvl.Children) != 2 {
		t.Fatalf("expected 2 children under radix 8, got %v", lvl.Children)
	}
}

func TestNonZeroRootAdjustmentSwapsZero(t *testing.T) {
	top := Level{Parent: -1, Children: []int{0, 1, 2}}
	applyRootAdjustment(&top, 5, 3)
	for _, c := range top.Children {
		if c == 0 {
			t.Fatalf("member 0 should have been displaced: %v", top.Children)
		}
	}
	found := false
	for _, c := range top.Children {
		if c == 3 {
			found = true
		}
	}
	if !found {
		t.Fatalf("requested root 3 should appear in children: %v", top.Children)
	}
}

func TestNonZeroRootAdjustmentAddsZeroAsChildOfRoot(t *testing.T) {
	top := Level{Parent: -1, Children: []int{1, 2}}
	applyRootAdjustment(&top, 3, 3)
	found := false
	for _, c := range top.Children {
		if c == 0 {
			found = true
		}
	}
	if !found {
		t.Fatalf("member 0 should be added as a child of the new root: %v", top.Children)
	}
}

func TestApplyRootAdjustmentNoOpWhenRootIsZero(t *testing.T) {
	top := Level{Parent: -1, Children: []int{1, 2, 3}}
	before := append([]int(nil), top.Children...)
	applyRootAdjustment(&top, 0, 0)
	if len(top.Children) != len(before) {
		t.Fatalf("root 0 should be a no-op, got %v", top.Children)
	}
}
