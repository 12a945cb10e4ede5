package engine

import (
	"encoding/json"
	"testing"
)

func TestDecompose_ScalarBecomesSingleNode(t *testing.T) {
	nodes := decompose("status", []byte(`"ok"`), 2)
	if len(nodes) != 1 {
		t.Fatalf("len(nodes) = %d, want 1", len(nodes))
	}
	if nodes[0].NodeKey != "status" {
		t.Errorf("NodeKey = %q, want %q", nodes[0].NodeKey, "status")
	}
}

func TestDecompose_MaxDepthZeroDisablesSplitting(t *testing.T) {
	raw := `{"a":1,"b":{"c":2}}`
	nodes := decompose("record", []byte(raw), 0)
	if len(nodes) != 1 {
		t.Fatalf("len(nodes) = %d, want 1", len(nodes))
	}
	if nodes[0].NodeKey != "record" {
		t.Errorf("NodeKey = %q, want %q", nodes[0].NodeKey, "record")
	}
	if string(nodes[0].Payload) != raw {
		t.Errorf("Payload = %s, want %s", nodes[0].Payload, raw)
	}
}

func TestDecompose_ObjectSplitsOneLevel(t *testing.T) {
	raw := `{"name":"alice","age":30}`
	nodes := decompose("user", []byte(raw), 1)

	if len(nodes) != 2 {
		t.Fatalf("len(nodes) = %d, want 2: %+v", len(nodes), nodes)
	}
	keys := map[string]string{}
	for _, n := range nodes {
		keys[n.NodeKey] = string(n.Payload)
	}
	if keys["user#/name"] != `"alice"` {
		t.Errorf("user#/name = %s, want \"alice\"", keys["user#/name"])
	}
	if keys["user#/age"] != "30" {
		t.Errorf("user#/age = %s, want 30", keys["user#/age"])
	}
}

func TestDecompose_NestingBeyondMaxDepthCollapses(t *testing.T) {
	raw := `{"a":{"b":{"c":1}}}`
	nodes := decompose("doc", []byte(raw), 1)

	if len(nodes) != 1 {
		t.Fatalf("len(nodes) = %d, want 1: %+v", len(nodes), nodes)
	}
	if nodes[0].NodeKey != "doc#/a" {
		t.Errorf("NodeKey = %q, want %q", nodes[0].NodeKey, "doc#/a")
	}
	var got map[string]interface{}
	if err := json.Unmarshal(nodes[0].Payload, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
}

func TestDecompose_ArraySplitsByIndex(t *testing.T) {
	raw := `[10,20,30]`
	nodes := decompose("items", []byte(raw), 1)

	if len(nodes) != 3 {
		t.Fatalf("len(nodes) = %d, want 3: %+v", len(nodes), nodes)
	}
	if nodes[0].NodeKey != "items#/0" || nodes[1].NodeKey != "items#/1" || nodes[2].NodeKey != "items#/2" {
		t.Errorf("node keys = %+v", nodes)
	}
}

func TestDecompose_EscapesJSONPointerTokens(t *testing.T) {
	raw := `{"a/b":1,"c~d":2}`
	nodes := decompose("doc", []byte(raw), 1)

	keys := map[string]bool{}
	for _, n := range nodes {
		keys[n.NodeKey] = true
	}
	if !keys["doc#/a~1b"] {
		t.Errorf("expected escaped key doc#/a~1b, got %+v", nodes)
	}
	if !keys["doc#/c~0d"] {
		t.Errorf("expected escaped key doc#/c~0d, got %+v", nodes)
	}
}

func TestDescribeNode_TruncatesToMaxTokens(t *testing.T) {
	desc := describeNode("widgets", json.RawMessage(`"the quick brown fox jumps"`), 2)
	fields := len(splitFields(desc))
	// dataKey + 2 tokens = 3 fields.
	if fields != 3 {
		t.Errorf("describeNode() = %q, want 3 fields (got %d)", desc, fields)
	}
}

func splitFields(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == ' ' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}
