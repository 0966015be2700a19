package mutation

import "github.com/dmitrijs2005/homesync/internal/models"

// MergePatch applies patch to target following RFC 7396 and returns a new
// map; neither argument is modified.
func MergePatch(target, patch models.Attributes) models.Attributes {
	out := target.Clone()
	if out == nil {
		out = models.Attributes{}
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		sub, isObj := asObject(v)
		if !isObj {
			out[k] = cloneAny(v)
			continue
		}
		base, _ := asObject(out[k])
		out[k] = map[string]any(MergePatch(base, sub))
	}
	return out
}

func asObject(v any) (models.Attributes, bool) {
	switch x := v.(type) {
	case map[string]any:
		return models.Attributes(x), true
	case models.Attributes:
		return x, true
	}
	return nil, false
}

func cloneAny(v any) any {
	return models.Attributes{"v": v}.Clone()["v"]
}
