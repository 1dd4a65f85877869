package block

import "testing"

func TestCanonicalID(t *testing.T) {
	cases := []struct {
		name string
		node Node
		want string
	}{
		{name: "own block id", node: Node{BlockID: "b1", Type: TypeCard}, want: "b1"},
		{name: "card reference", node: Node{BlockID: "r1", Type: TypeInserter, Attrs: map[string]any{AttrCardBlockID: "c9"}}, want: "c9"},
		{name: "note reference", node: Node{BlockID: "r2", Type: TypeInserter, Attrs: map[string]any{AttrNoteBlockID: "n3"}}, want: "n3"},
		{name: "card id beats note id", node: Node{BlockID: "r3", Attrs: map[string]any{AttrCardBlockID: "c1", AttrNoteBlockID: "n1"}}, want: "c1"},
		{name: "empty alias falls through", node: Node{BlockID: "b2", Attrs: map[string]any{AttrCardBlockID: ""}}, want: "b2"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanonicalID(tc.node); got != tc.want {
				t.Fatalf("CanonicalID = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAttrInt64(t *testing.T) {
	cases := []struct {
		name  string
		value any
		want  int64
	}{
		{name: "float64 from json", value: float64(42), want: 42},
		{name: "int", value: 7, want: 7},
		{name: "int64", value: int64(9), want: 9},
		{name: "digit string", value: "15", want: 15},
		{name: "garbage string", value: "x", want: 0},
		{name: "nil", value: nil, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := Node{Attrs: map[string]any{"k": tc.value}}
			if got := AttrInt64(n, "k"); got != tc.want {
				t.Fatalf("AttrInt64 = %d, want %d", got, tc.want)
			}
		})
	}

	if got := AttrInt64(Node{}, "k"); got != 0 {
		t.Fatalf("AttrInt64 on nil attrs = %d, want 0", got)
	}
}

func TestNormalizeDepthFirstOrder(t *testing.T) {
	tree := []Node{
		{BlockID: "g1", Type: TypeContainer, Children: []Node{
			{BlockID: "c1", Type: TypeCard},
			{BlockID: "s1", Type: TypeSlot, Children: []Node{
				{BlockID: "n1", Type: TypeNote},
			}},
		}},
		{BlockID: "i1", Type: TypeInserter, Attrs: map[string]any{AttrCardBlockID: "c1", AttrObjectID: float64(12)}},
	}

	refs := Normalize(tree, true)
	wantOrder := []string{"c1", "n1", "i1"}
	if len(refs) != len(wantOrder) {
		t.Fatalf("got %d refs, want %d: %+v", len(refs), len(wantOrder), refs)
	}
	for i, id := range wantOrder {
		if refs[i].BlockID != id {
			t.Fatalf("refs[%d].BlockID = %q, want %q", i, refs[i].BlockID, id)
		}
	}
	if refs[2].ObjectID != 12 {
		t.Fatalf("inserter ObjectID = %d, want 12", refs[2].ObjectID)
	}
	if refs[0].ObjectID != 0 {
		t.Fatalf("unresolved card ObjectID = %d, want 0", refs[0].ObjectID)
	}
}

func TestNormalizeDropsUntrackableBlocks(t *testing.T) {
	tree := []Node{
		{Type: TypeCard}, // no block id
		{BlockID: "c1", Type: TypeCard},
	}
	refs := Normalize(tree, true)
	if len(refs) != 1 || refs[0].BlockID != "c1" {
		t.Fatalf("got %+v, want only c1", refs)
	}
}

func TestNormalizeKnownOnlyFilter(t *testing.T) {
	tree := []Node{
		{BlockID: "p1", Type: TypeOther},
		{BlockID: "c1", Type: TypeCard},
	}
	if refs := Normalize(tree, true); len(refs) != 1 {
		t.Fatalf("knownOnly: got %d refs, want 1", len(refs))
	}
	if refs := Normalize(tree, false); len(refs) != 2 {
		t.Fatalf("all types: got %d refs, want 2", len(refs))
	}
}

func TestDecodeTree(t *testing.T) {
	data := []byte(`[{"blockId":"c1","type":"card","attrs":{"content":"Q?"},"children":[{"blockId":"n1","type":"note"}]}]`)
	tree, err := DecodeTree(data)
	if err != nil {
		t.Fatalf("DecodeTree: %v", err)
	}
	if len(tree) != 1 || tree[0].BlockID != "c1" || len(tree[0].Children) != 1 {
		t.Fatalf("unexpected tree: %+v", tree)
	}

	if _, err := DecodeTree([]byte(`{`)); err == nil {
		t.Fatal("expected error for malformed tree")
	}
}
