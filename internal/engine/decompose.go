package engine

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// decomposedNode is one addressable unit carved out of a published
// record, before embedding.
type decomposedNode struct {
	NodeKey string
	Payload json.RawMessage
}

// decompose splits raw (a canonical JSON document) into one or more
// nodes. Objects and arrays are split one level at a time, keyed by
// dataKey + "#" + json_pointer, down to maxDepth; anything at or below
// that depth — including scalars — becomes a single leaf node holding
// its entire subtree. maxDepth <= 0 disables splitting: the whole
// document becomes one node keyed by dataKey (Open Question decision,
// see DESIGN.md).
func decompose(dataKey string, raw []byte, maxDepth int) []decomposedNode {
	if maxDepth <= 0 {
		return []decomposedNode{{NodeKey: dataKey, Payload: json.RawMessage(raw)}}
	}

	root := gjson.ParseBytes(raw)
	var nodes []decomposedNode
	walk(dataKey, "", root, 0, maxDepth, &nodes)
	if len(nodes) == 0 {
		nodes = append(nodes, decomposedNode{NodeKey: dataKey, Payload: json.RawMessage(raw)})
	}
	return nodes
}

func walk(dataKey, pointer string, value gjson.Result, depth, maxDepth int, out *[]decomposedNode) {
	if depth >= maxDepth || !(value.IsObject() || value.IsArray()) {
		nodeKey := dataKey
		if pointer != "" {
			nodeKey = dataKey + "#" + pointer
		}
		*out = append(*out, decomposedNode{NodeKey: nodeKey, Payload: json.RawMessage(value.Raw)})
		return
	}

	value.ForEach(func(key, child gjson.Result) bool {
		childPointer := pointer + "/" + jsonPointerEscape(key.String())
		walk(dataKey, childPointer, child, depth+1, maxDepth, out)
		return true
	})
}

func jsonPointerEscape(token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	token = strings.ReplaceAll(token, "/", "~1")
	return token
}

// describeNode builds a default node description when the caller did not
// supply one: dataKey followed by the first N tokens of the node's own
// serialized payload.
func describeNode(dataKey string, payload json.RawMessage, maxTokens int) string {
	text := strings.Fields(string(payload))
	if len(text) > maxTokens {
		text = text[:maxTokens]
	}
	return strings.TrimSpace(dataKey + " " + strings.Join(text, " "))
}
