package db

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// flatten writes the leaves of value under prefix into out as encoded JSON.
// nil and empty maps produce no leaves.
func flatten(prefix string, value interface{}, out map[string]interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		for k, child := range v {
			if err := flattenChild(prefix, k, child, out); err != nil {
				return err
			}
		}
		return nil
	case map[string]string:
		for k, child := range v {
			if err := flattenChild(prefix, k, child, out); err != nil {
				return err
			}
		}
		return nil
	case map[string]bool:
		for k, child := range v {
			if err := flattenChild(prefix, k, child, out); err != nil {
				return err
			}
		}
		return nil
	case map[string]int:
		for k, child := range v {
			if err := flattenChild(prefix, k, child, out); err != nil {
				return err
			}
		}
		return nil
	case time.Time:
		return flattenLeaf(prefix, v.UnixMilli(), out)
	case bool, string, int, int32, int64, float32, float64:
		return flattenLeaf(prefix, v, out)
	default:
		return errors.Errorf("unsupported value type %T at %q", value, prefix)
	}
}

func flattenChild(prefix, key string, child interface{}, out map[string]interface{}) error {
	if !ValidKey(key) {
		return errors.Errorf("invalid key %q under %q", key, prefix)
	}
	return flatten(JoinPath(prefix, key), child, out)
}

func flattenLeaf(path string, v interface{}, out map[string]interface{}) error {
	if path == "" {
		return errors.New("cannot store a scalar at the namespace root")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %q", path)
	}
	out[path] = string(b)
	return nil
}

func decodeLeaf(raw string) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// unflatten rebuilds the subtree at base from its leaf fields.
func unflatten(base string, fields map[string]string) (interface{}, error) {
	if raw, ok := fields[base]; ok && base != "" {
		return decodeLeaf(raw)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	root := map[string]interface{}{}
	for field, raw := range fields {
		rel := field
		if base != "" {
			if !strings.HasPrefix(field, base+"/") {
				continue
			}
			rel = field[len(base)+1:]
		}
		leaf, err := decodeLeaf(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %q", field)
		}
		node := root
		segs := strings.Split(rel, "/")
		for _, seg := range segs[:len(segs)-1] {
			next, ok := node[seg].(map[string]interface{})
			if !ok {
				next = map[string]interface{}{}
				node[seg] = next
			}
			node = next
		}
		node[segs[len(segs)-1]] = leaf
	}
	if len(root) == 0 {
		return nil, nil
	}
	return root, nil
}
