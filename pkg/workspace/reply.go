package workspace

import "encoding/json"

// Reply is the parsed form of an assistant message payload. Producers are
// loose about shape, so the parse never fails: an unparseable payload
// degrades to a plain-text reply with no tree.
type Reply struct {
	// Text is the human-readable portion. Falls back to the raw payload
	// when the envelope doesn't parse.
	Text string

	// Delta is the normalized file tree carried by the reply, or nil
	// when the payload carried none (or none of its entries yielded
	// usable content).
	Delta Snapshot
}

// HasDelta reports whether the reply carries a usable workspace update.
func (r Reply) HasDelta() bool {
	return len(r.Delta) > 0
}

// envelope is the structured shape some producers emit.
type envelope struct {
	Text     string                     `json:"text"`
	FileTree map[string]json.RawMessage `json:"fileTree"`
}

// ParseReply interprets a raw assistant payload as either a structured
// reply (text + optional file tree) or plain text.
func ParseReply(raw string) Reply {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Reply{Text: raw}
	}

	text := env.Text
	if text == "" {
		text = raw
	}

	return Reply{
		Text:  text,
		Delta: NormalizeTree(env.FileTree),
	}
}

// NormalizeTree converts a heterogeneous producer tree into a Snapshot.
// For each entry the first of the following that yields text wins: a
// direct string value, .content, .contents, file.contents, .code.
// Entries yielding nothing are dropped. Returns nil when no entry
// survives, which callers treat as "no update".
func NormalizeTree(tree map[string]json.RawMessage) Snapshot {
	if len(tree) == 0 {
		return nil
	}

	out := make(Snapshot)
	for path, raw := range tree {
		if path == "" {
			continue
		}
		if content, ok := entryContent(raw); ok {
			out[path] = content
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

// entryContent applies the shape ladder to a single tree entry.
func entryContent(raw json.RawMessage) (string, bool) {
	var direct string
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct, true
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}

	if s, ok := stringField(obj, "content"); ok {
		return s, true
	}
	if s, ok := stringField(obj, "contents"); ok {
		return s, true
	}
	if fileRaw, ok := obj["file"]; ok {
		var file map[string]json.RawMessage
		if err := json.Unmarshal(fileRaw, &file); err == nil {
			if s, ok := stringField(file, "contents"); ok {
				return s, true
			}
		}
	}
	if s, ok := stringField(obj, "code"); ok {
		return s, true
	}

	return "", false
}

// stringField extracts a field only when it is a JSON string.
func stringField(obj map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := obj[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
