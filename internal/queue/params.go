package queue

import "shopcap/pkg/model"

// Param accessors tolerate the types JSON round-tripping produces
// (float64 for every number) and fall back to a default when absent.

func ParamString(t *model.Task, key, def string) string {
	if v, ok := t.Params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func ParamFloat(t *model.Task, key string, def float64) float64 {
	switch v := t.Params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func ParamInt(t *model.Task, key string, def int) int {
	switch v := t.Params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func ParamBool(t *model.Task, key string, def bool) bool {
	if v, ok := t.Params[key].(bool); ok {
		return v
	}
	return def
}
