package prefs

import (
	"fmt"

	"gitlab.com/linkinlog/rxprefs/store"
)

// toValue tags v with its kind. Sets may be given as store.StringSet,
// map[string]struct{}, []string, or as []any / map[any]struct{} holding only
// strings.
func toValue(v any) (store.Value, error) {
	switch t := v.(type) {
	case bool:
		return store.Bool(t), nil
	case float32:
		return store.Float(t), nil
	case int32:
		return store.Int(t), nil
	case int64:
		return store.Long(t), nil
	case string:
		return store.String(t), nil
	case store.StringSet:
		return store.Set(t), nil
	case map[string]struct{}:
		return store.Set(store.StringSet(t)), nil
	case []string:
		return store.Set(store.NewStringSet(t...)), nil
	case []any:
		return setOf(t)
	case map[any]struct{}:
		items := make([]any, 0, len(t))
		for item := range t {
			items = append(items, item)
		}
		return setOf(items)
	}
	return store.Value{}, fmt.Errorf("%w: no accessor for %T", store.ErrUnsupportedType, v)
}

func setOf(items []any) (store.Value, error) {
	set := make(store.StringSet, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return store.Value{}, fmt.Errorf("%w: sets must only contain strings, got %T", store.ErrUnsupportedType, item)
		}
		set[s] = struct{}{}
	}
	return store.Set(set), nil
}

// encode writes v under key. An empty set removes the key.
func encode(ed *store.Editor, key string, v any) error {
	val, err := toValue(v)
	if err != nil {
		return err
	}

	if set, ok := val.AsSet(); ok && len(set) == 0 {
		ed.Remove(key)
		return nil
	}

	ed.Put(key, val)
	return nil
}

func decode[T any](v store.Value) (T, error) {
	var out T

	ok := false
	switch p := any(&out).(type) {
	case *bool:
		*p, ok = v.AsBool()
	case *float32:
		*p, ok = v.AsFloat()
	case *int32:
		*p, ok = v.AsInt()
	case *int64:
		*p, ok = v.AsLong()
	case *string:
		*p, ok = v.AsString()
	case *store.StringSet:
		*p, ok = v.AsSet()
	case *map[string]struct{}:
		var set store.StringSet
		set, ok = v.AsSet()
		*p = set
	case *[]string:
		var set store.StringSet
		if set, ok = v.AsSet(); ok {
			*p = set.Sorted()
		}
	default:
		return out, fmt.Errorf("%w: no accessor for %T", store.ErrUnsupportedType, out)
	}

	if !ok {
		return out, fmt.Errorf("%w: stored %s is not a %T", store.ErrTypeMismatch, v.Kind(), out)
	}
	return out, nil
}
