package syncedjson

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/rs/zerolog"

	"github.com/signac-project/signac/internal/signacerr"
)

// Validator inspects (and may normalize) a candidate value before it
// is written into a Document. Validators are an open, composable list
// (spec §4.3); the WithValidators option replaces the default chain
// with a caller-supplied one.
type Validator func(v any) (any, error)

// DefaultValidators returns the built-in validator chain: (v1)
// JSON-encodability, (v2) string mapping keys with deprecated
// int/bool/nil coercion, (v3) no '.' in any mapping key.
func DefaultValidators(logger zerolog.Logger) []Validator {
	return []Validator{
		validateKeys(logger),
		validateJSONEncodable,
	}
}

// validateJSONEncodable rejects values containing types JSON cannot
// represent (after key normalization every key is already a string,
// so only leaf value types remain to check).
func validateJSONEncodable(v any) (any, error) {
	if err := checkEncodable(v); err != nil {
		return nil, err
	}
	return v, nil
}

func checkEncodable(v any) error {
	switch t := v.(type) {
	case nil, bool, string, float64, float32, int, int64, int32:
		return nil
	case map[string]any:
		for k, val := range t {
			if err := checkEncodable(val); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
		}
		return nil
	case []any:
		for i, val := range t {
			if err := checkEncodable(val); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("value of type %T is not JSON-encodable", v)
	}
}

// validateKeys walks v, coercing non-string map keys (int, bool, nil)
// into strings with a deprecation warning, rejecting any other
// non-string key type, and rejecting any string key containing '.'.
func validateKeys(logger zerolog.Logger) Validator {
	return func(v any) (any, error) {
		return normalizeKeys(v, logger)
	}
}

func normalizeKeys(v any, logger zerolog.Logger) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if strings.Contains(k, ".") {
				return nil, &signacerr.InvalidKeyError{Key: k}
			}
			nv, err := normalizeKeys(val, logger)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			nv, err := normalizeKeys(val, logger)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		rv := reflect.ValueOf(v)
		if rv.IsValid() && rv.Kind() == reflect.Map && rv.Type().Key().Kind() != reflect.String {
			return normalizeNonStringKeyedMap(rv, logger)
		}
		return v, nil
	}
}

// normalizeNonStringKeyedMap handles the deprecated case of a Go map
// whose key type is int, bool, or an interface holding one of those
// (spec I4): each key is stringified and a deprecation warning is
// logged; any other key type is a hard KeyTypeError.
func normalizeNonStringKeyedMap(rv reflect.Value, logger zerolog.Logger) (any, error) {
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key := iter.Key().Interface()
		var skey string
		switch key.(type) {
		case int, int64, int32, bool, nil:
			skey = fmt.Sprintf("%v", key)
			logger.Warn().
				Interface("key", key).
				Msg("coercing non-string state point key to string (deprecated)")
		default:
			return nil, &signacerr.KeyTypeError{Key: key}
		}
		val, err := normalizeKeys(iter.Value().Interface(), logger)
		if err != nil {
			return nil, err
		}
		out[skey] = val
	}
	return out, nil
}
