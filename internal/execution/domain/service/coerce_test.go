package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoercePassthroughWhenUndeclared(t *testing.T) {
	c := NewCoercer(nil, nil)

	value := map[string]interface{}{"anything": true}
	got, err := c.Coerce(value, "")
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func TestCoerceToString(t *testing.T) {
	c := NewCoercer(nil, nil)

	cases := []struct {
		in   interface{}
		want string
	}{
		{"already", "already"},
		{true, "true"},
		{42, "42"},
		{int64(42), "42"},
		{3.5, "3.5"},
		{float64(7), "7"},
		{json.Number("19"), "19"},
		{map[string]interface{}{"a": float64(1)}, `{"a":1}`},
		{[]interface{}{"x", float64(2)}, `["x",2]`},
	}
	for _, tc := range cases {
		got, err := c.Coerce(tc.in, "string")
		require.NoError(t, err, "%v", tc.in)
		assert.Equal(t, tc.want, got, "%v", tc.in)
	}
}

func TestCoerceToInteger(t *testing.T) {
	c := NewCoercer(nil, nil)

	cases := []struct {
		in   interface{}
		want int64
	}{
		{42, 42},
		{int64(-7), -7},
		{float64(100), 100},
		{"42", 42},
		{" 42 ", 42},
		{"42.0", 42},
		{json.Number("9000"), 9000},
		{json.Number("12.0"), 12},
	}
	for _, tc := range cases {
		got, err := c.Coerce(tc.in, "integer")
		require.NoError(t, err, "%v", tc.in)
		assert.Equal(t, tc.want, got, "%v", tc.in)
	}

	for _, in := range []interface{}{3.7, "3.7", "abc", true, json.Number("0.5")} {
		_, err := c.Coerce(in, "integer")
		assert.Error(t, err, "%v", in)
	}
}

func TestCoerceToFloat(t *testing.T) {
	c := NewCoercer(nil, nil)

	cases := []struct {
		in   interface{}
		want float64
	}{
		{3.14, 3.14},
		{int64(2), 2},
		{"0.5", 0.5},
		{json.Number("1.25"), 1.25},
	}
	for _, tc := range cases {
		got, err := c.Coerce(tc.in, "float")
		require.NoError(t, err, "%v", tc.in)
		assert.Equal(t, tc.want, got, "%v", tc.in)
	}

	_, err := c.Coerce("not-a-float", "float")
	assert.Error(t, err)
}

func TestCoerceToBoolean(t *testing.T) {
	c := NewCoercer(nil, nil)

	truthy := []interface{}{true, "true", "True", " yes ", "on", "1", 1}
	for _, in := range truthy {
		got, err := c.Coerce(in, "boolean")
		require.NoError(t, err, "%v", in)
		assert.Equal(t, true, got, "%v", in)
	}

	falsy := []interface{}{false, "false", "NO", "off", "0", "", 0}
	for _, in := range falsy {
		got, err := c.Coerce(in, "boolean")
		require.NoError(t, err, "%v", in)
		assert.Equal(t, false, got, "%v", in)
	}

	_, err := c.Coerce("maybe", "boolean")
	assert.Error(t, err)
}

func TestCoerceCustomBooleanWords(t *testing.T) {
	c := NewCoercer([]string{"ja"}, []string{"nein"})

	got, err := c.Coerce("JA", "boolean")
	require.NoError(t, err)
	assert.Equal(t, true, got)

	got, err = c.Coerce("nein", "boolean")
	require.NoError(t, err)
	assert.Equal(t, false, got)

	// Custom sets replace the defaults entirely, except the empty
	// string which always reads as false.
	_, err = c.Coerce("true", "boolean")
	assert.Error(t, err)

	got, err = c.Coerce("", "boolean")
	require.NoError(t, err)
	assert.Equal(t, false, got)
}

func TestCoerceToArray(t *testing.T) {
	c := NewCoercer(nil, nil)

	arr := []interface{}{"a", float64(2)}
	got, err := c.Coerce(arr, "array")
	require.NoError(t, err)
	assert.Equal(t, arr, got)

	got, err = c.Coerce(`["a", 2]`, "array")
	require.NoError(t, err)
	assert.Equal(t, arr, got)

	for _, in := range []interface{}{"not json", `{"a":1}`, 5} {
		_, err := c.Coerce(in, "array")
		assert.Error(t, err, "%v", in)
	}
}

func TestCoerceToObject(t *testing.T) {
	c := NewCoercer(nil, nil)

	obj := map[string]interface{}{"a": float64(1)}
	got, err := c.Coerce(obj, "object")
	require.NoError(t, err)
	assert.Equal(t, obj, got)

	got, err = c.Coerce(`{"a": 1}`, "object")
	require.NoError(t, err)
	assert.Equal(t, obj, got)

	for _, in := range []interface{}{`[1, 2]`, "not json", 5} {
		_, err := c.Coerce(in, "object")
		assert.Error(t, err, "%v", in)
	}
}

func TestCoerceAcceptsDeclaredAliases(t *testing.T) {
	c := NewCoercer(nil, nil)

	aliases := map[string]interface{}{
		"str":    "x",
		"text":   "x",
		"int":    "3",
		"number": "3",
		"bool":   "yes",
		"list":   `[1]`,
		"dict":   `{"k":"v"}`,
		"json":   `{"k":"v"}`,
		"STRING": "case insensitive",
	}
	for declared, in := range aliases {
		_, err := c.Coerce(in, declared)
		assert.NoError(t, err, declared)
	}

	_, err := c.Coerce("x", "tuple")
	assert.Error(t, err)
}

func TestCoerceIsIdempotent(t *testing.T) {
	c := NewCoercer(nil, nil)

	cases := map[string]interface{}{
		"string":  "5",
		"integer": "5",
		"float":   "2.5",
		"boolean": "yes",
		"array":   `["a"]`,
		"object":  `{"a":1}`,
	}
	for declared, in := range cases {
		once, err := c.Coerce(in, declared)
		require.NoError(t, err, declared)
		twice, err := c.Coerce(once, declared)
		require.NoError(t, err, declared)
		assert.Equal(t, once, twice, declared)
	}
}
