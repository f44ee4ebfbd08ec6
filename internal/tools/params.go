package tools

import (
	"fmt"
	"strconv"
)

// GetStringParam safely gets a string parameter from arguments
// It also handles numbers and converts them to strings
func GetStringParam(arguments map[string]interface{}, key string, required bool) (string, error) {
	val, ok := arguments[key]
	if !ok {
		if required {
			return "", fmt.Errorf("missing required argument: %s", key)
		}
		return "", nil
	}

	switch v := val.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		return "", fmt.Errorf("invalid type for argument %s: expected string or number, got %T", key, val)
	}
}

// GetIntParam safely gets an integer parameter from arguments.
// Missing optional parameters return def.
func GetIntParam(arguments map[string]interface{}, key string, required bool, def int) (int, error) {
	val, ok := arguments[key]
	if !ok || val == nil {
		if required {
			return 0, fmt.Errorf("missing required argument: %s", key)
		}
		return def, nil
	}

	switch v := val.(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("invalid value for argument %s: expected an integer, got %v", key, v)
		}
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid value for argument %s: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("invalid type for argument %s: expected number or string, got %T", key, val)
	}
}

// GetFloatParam safely gets a floating point parameter from arguments.
// Missing optional parameters return def.
func GetFloatParam(arguments map[string]interface{}, key string, required bool, def float64) (float64, error) {
	val, ok := arguments[key]
	if !ok || val == nil {
		if required {
			return 0, fmt.Errorf("missing required argument: %s", key)
		}
		return def, nil
	}

	switch v := val.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid value for argument %s: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("invalid type for argument %s: expected number or string, got %T", key, val)
	}
}

// GetBoolParam safely gets a boolean parameter from arguments
func GetBoolParam(arguments map[string]interface{}, key string, required bool) (bool, error) {
	val, ok := arguments[key]
	if !ok {
		if required {
			return false, fmt.Errorf("missing required argument: %s", key)
		}
		return false, nil
	}

	switch v := val.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(v)
	default:
		return false, fmt.Errorf("invalid type for argument %s: expected boolean or string, got %T", key, val)
	}
}
