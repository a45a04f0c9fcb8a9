package service

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Canonical parameter types. Node declarations may use any alias.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeFloat   = "float"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

var typeAliases = map[string]string{
	"string":  TypeString,
	"text":    TypeString,
	"str":     TypeString,
	"integer": TypeInteger,
	"number":  TypeInteger,
	"int":     TypeInteger,
	"float":   TypeFloat,
	"boolean": TypeBoolean,
	"bool":    TypeBoolean,
	"array":   TypeArray,
	"list":    TypeArray,
	"object":  TypeObject,
	"dict":    TypeObject,
	"json":    TypeObject,
}

// Coercer converts resolved raw values into a parameter's declared
// type. Coercion is idempotent: feeding a coerced value back through
// the same declared type returns it unchanged.
type Coercer struct {
	trueValues  map[string]bool
	falseValues map[string]bool
}

// NewCoercer builds a coercer with the configured boolean word sets.
// Empty sets fall back to the defaults; the empty string always reads
// as false.
func NewCoercer(trueValues, falseValues []string) *Coercer {
	if len(trueValues) == 0 {
		trueValues = []string{"true", "1", "yes", "on"}
	}
	if len(falseValues) == 0 {
		falseValues = []string{"false", "0", "no", "off"}
	}

	c := &Coercer{
		trueValues:  make(map[string]bool, len(trueValues)),
		falseValues: make(map[string]bool, len(falseValues)+1),
	}
	for _, v := range trueValues {
		c.trueValues[strings.ToLower(strings.TrimSpace(v))] = true
	}
	for _, v := range falseValues {
		c.falseValues[strings.ToLower(strings.TrimSpace(v))] = true
	}
	c.falseValues[""] = true
	return c
}

// Coerce converts value to the declared type. An empty declaration
// passes the value through untouched.
func (c *Coercer) Coerce(value interface{}, declared string) (interface{}, error) {
	if declared == "" {
		return value, nil
	}

	canonical, ok := typeAliases[strings.ToLower(strings.TrimSpace(declared))]
	if !ok {
		return nil, fmt.Errorf("unknown parameter type %q", declared)
	}

	switch canonical {
	case TypeString:
		return c.toString(value)
	case TypeInteger:
		return c.toInteger(value)
	case TypeFloat:
		return c.toFloat(value)
	case TypeBoolean:
		return c.toBoolean(value)
	case TypeArray:
		return c.toArray(value)
	default:
		return c.toObject(value)
	}
}

func (c *Coercer) toString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 64), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case json.Number:
		return v.String(), nil
	case map[string]interface{}, []interface{}:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("cannot render %T as string: %v", value, err)
		}
		return string(encoded), nil
	default:
		return "", fmt.Errorf("cannot coerce %T to string", value)
	}
}

func (c *Coercer) toInteger(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float32:
		return wholeFloat(float64(v))
	case float64:
		return wholeFloat(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to integer", v.String())
		}
		return wholeFloat(f)
	case string:
		trimmed := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to integer", v)
		}
		return wholeFloat(f)
	default:
		return 0, fmt.Errorf("cannot coerce %T to integer", value)
	}
}

func wholeFloat(f float64) (int64, error) {
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("cannot coerce %v to integer: fractional part would be lost", f)
	}
	return int64(f), nil
}

func (c *Coercer) toFloat(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to float", v.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to float", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to float", value)
	}
}

func (c *Coercer) toBoolean(value interface{}) (bool, error) {
	if b, ok := value.(bool); ok {
		return b, nil
	}

	rendered, err := c.toString(value)
	if err != nil {
		return false, fmt.Errorf("cannot coerce %T to boolean", value)
	}

	word := strings.ToLower(strings.TrimSpace(rendered))
	if c.trueValues[word] {
		return true, nil
	}
	if c.falseValues[word] {
		return false, nil
	}
	return false, fmt.Errorf("cannot interpret %q as boolean", rendered)
}

func (c *Coercer) toArray(value interface{}) ([]interface{}, error) {
	switch v := value.(type) {
	case []interface{}:
		return v, nil
	case string:
		var arr []interface{}
		if err := json.Unmarshal([]byte(v), &arr); err != nil {
			return nil, fmt.Errorf("cannot coerce %q to array: not a JSON array", v)
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to array", value)
	}
}

func (c *Coercer) toObject(value interface{}) (map[string]interface{}, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		return v, nil
	case string:
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(v), &obj); err != nil {
			return nil, fmt.Errorf("cannot coerce %q to object: not a JSON object", v)
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to object", value)
	}
}
