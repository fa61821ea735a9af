package grpc

import (
	"errors"
	"io"
	"strconv"

	"gitlab.com/linkinlog/rxprefs/store"
	"google.golang.org/protobuf/types/known/structpb"
)

func stringField(msg *structpb.Struct, name string) string {
	return msg.GetFields()[name].GetStringValue()
}

// jsonValue converts v into something structpb.NewValue accepts. Longs
// travel as decimal strings since structpb numbers are float64.
func jsonValue(v store.Value) any {
	if n, ok := v.AsLong(); ok {
		return strconv.FormatInt(n, 10)
	}

	raw := v.JSON()
	if items, ok := raw.([]string); ok {
		list := make([]any, len(items))
		for i, item := range items {
			list[i] = item
		}
		return list
	}
	return raw
}

func encodeEntry(key string, v store.Value) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"key":   key,
		"kind":  v.Kind().String(),
		"value": jsonValue(v),
	})
}

func decodeEntry(msg *structpb.Struct) (store.Value, error) {
	kind, err := store.ParseKind(stringField(msg, "kind"))
	if err != nil {
		return store.Value{}, err
	}
	return store.FromJSON(kind, msg.GetFields()["value"].AsInterface())
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
