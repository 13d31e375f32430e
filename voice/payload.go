// Package voice ingests voice-analysis webhooks and maintains the versioned
// voice profile of each user.
package voice

import (
	"encoding/json"
	"sort"
	"strings"

	"authrax/pkg/authrax"
)

// Layer names.
const (
	LayerExpression = "expression"
	LayerBelief     = "belief"
	LayerJudgement  = "judgement"
	LayerGovernance = "governance"
)

// Layer sources in increasing precedence.
var sourceKeys = []string{"output", "analysisoutput", "auditoutput"}

// Wrapper keys a source may nest its layers under, tried in order.
var wrapperKeys = []string{"voiceprofile", "profile", "layers", "analysis"}

const maxNesting = 4

// Update is a partial set of layers from one source. A nil map means the
// source did not carry that layer.
type Update struct {
	Expression map[string]any
	Belief     map[string]any
	Judgement  map[string]any
	Governance map[string]any
}

// Empty reports whether the update carries no layer.
func (u Update) Empty() bool {
	return u.Expression == nil && u.Belief == nil && u.Judgement == nil && u.Governance == nil
}

func (u *Update) set(layer string, fields map[string]any) {
	switch layer {
	case LayerExpression:
		u.Expression = mergeFields(u.Expression, fields)
	case LayerBelief:
		u.Belief = mergeFields(u.Belief, fields)
	case LayerJudgement:
		u.Judgement = mergeFields(u.Judgement, fields)
	case LayerGovernance:
		u.Governance = mergeFields(u.Governance, fields)
	}
}

// Merge applies updates in order. Within a layer a later update replaces
// earlier values field by field; layers an update lacks are left alone.
func Merge(updates ...Update) authrax.VoiceLayers {
	var out authrax.VoiceLayers
	for _, u := range updates {
		out.Expression = mergeFields(out.Expression, u.Expression)
		out.Belief = mergeFields(out.Belief, u.Belief)
		out.Judgement = mergeFields(out.Judgement, u.Judgement)
		out.Governance = mergeFields(out.Governance, u.Governance)
	}
	return out
}

func mergeFields(dst, src map[string]any) map[string]any {
	if src == nil {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Payload is a decoded webhook delivery.
type Payload struct {
	UserID  string
	Summary string
	Source  string
	Updates []Update // In precedence order
}

// ParsePayload decodes a webhook body. The body is either an object or an
// array whose first object carrying a user_id is used.
func ParsePayload(body []byte) (*Payload, error) {
	const op = "voice.parse"

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, authrax.E(authrax.InvalidArgument, op, err)
	}

	var obj map[string]any
	switch v := raw.(type) {
	case map[string]any:
		obj = v
	case []any:
		for _, el := range v {
			if m, ok := el.(map[string]any); ok && stringField(m, "user_id") != "" {
				obj = m
				break
			}
		}
	}
	if obj == nil {
		return nil, authrax.Errorf(authrax.InvalidArgument, op, "payload has no object with user_id")
	}

	p := &Payload{
		UserID:  stringField(obj, "user_id"),
		Summary: stringField(obj, "summary"),
		Source:  stringField(obj, "source"),
	}
	if p.UserID == "" {
		return nil, authrax.Errorf(authrax.InvalidArgument, op, "missing user_id")
	}

	sources := normalizeKeys(obj)
	for _, key := range sourceKeys {
		src := asObject(sources[key])
		if src == nil {
			continue
		}
		if s := stringField(src, "summary"); s != "" {
			p.Summary = s
		}
		if u := extractLayers(src, 0); !u.Empty() {
			p.Updates = append(p.Updates, u)
		}
	}
	return p, nil
}

// extractLayers reads layer keys from m, descending into wrapper keys when m
// has none of its own. Aliases of a layer are merged in key order and the
// exact layer name is applied last.
func extractLayers(m map[string]any, depth int) Update {
	keys := make([]string, 0, len(m))
	for k := range m {
		if canonicalLayer(k) != "" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		ei, ej := isExactLayer(keys[i]), isExactLayer(keys[j])
		if ei != ej {
			return ej
		}
		return keys[i] < keys[j]
	})

	var u Update
	for _, k := range keys {
		if fields := asObject(m[k]); fields != nil {
			u.set(canonicalLayer(k), fields)
		}
	}
	if !u.Empty() || depth >= maxNesting {
		return u
	}

	nested := normalizeKeys(m)
	for _, key := range wrapperKeys {
		if inner := asObject(nested[key]); inner != nil {
			if u = extractLayers(inner, depth+1); !u.Empty() {
				return u
			}
		}
	}
	return u
}

// canonicalLayer maps "Expression Layer", "expression_layer" or
// "expressionLayer" to "expression". It returns "" for other keys.
func canonicalLayer(key string) string {
	k := strings.TrimSuffix(normalizeKey(key), "layer")
	switch k {
	case LayerExpression, LayerBelief, LayerJudgement, LayerGovernance:
		return k
	case "judgment":
		return LayerJudgement
	}
	return ""
}

func isExactLayer(key string) bool {
	return key == canonicalLayer(key)
}

// normalizeKeys re-keys m by normalizeKey. When several keys collide the
// one already in normal form wins, then the lexically last.
func normalizeKeys(m map[string]any) map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ei, ej := keys[i] == normalizeKey(keys[i]), keys[j] == normalizeKey(keys[j])
		if ei != ej {
			return ej
		}
		return keys[i] < keys[j]
	})

	out := make(map[string]any, len(m))
	for _, k := range keys {
		out[normalizeKey(k)] = m[k]
	}
	return out
}

// normalizeKey lowercases key and drops spaces, underscores and hyphens.
func normalizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '\t':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(key)))
}

// asObject returns v as an object, decoding it first if it is a string
// holding JSON, fenced or not.
func asObject(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(authrax.StripCodeFence(t)), &m); err != nil {
			return nil
		}
		return m
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}
