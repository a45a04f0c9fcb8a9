package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	cases := []struct {
		path string
		want []Segment
	}{
		{"key", []Segment{{Key: "key"}}},
		{"a.b.c", []Segment{{Key: "a"}, {Key: "b"}, {Key: "c"}}},
		{"items[0]", []Segment{{Key: "items"}, {Index: 0, IsIndex: true}}},
		{"data.items[2].name", []Segment{{Key: "data"}, {Key: "items"}, {Index: 2, IsIndex: true}, {Key: "name"}}},
		{"m[1][2]", []Segment{{Key: "m"}, {Index: 1, IsIndex: true}, {Index: 2, IsIndex: true}}},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			got, err := ParsePath(tc.path)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParsePathErrors(t *testing.T) {
	for _, path := range []string{"items[", "items[x]", "items[-1]", "..."} {
		t.Run(path, func(t *testing.T) {
			_, err := ParsePath(path)
			assert.Error(t, err)
		})
	}
}

func TestNavigate(t *testing.T) {
	data := map[string]interface{}{
		"name": "report",
		"data": map[string]interface{}{
			"items": []interface{}{
				map[string]interface{}{"name": "first", "qty": 3},
				map[string]interface{}{"name": "second"},
			},
		},
	}

	t.Run("empty path returns whole value", func(t *testing.T) {
		got, err := Navigate(data, "")
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("top level key", func(t *testing.T) {
		got, err := Navigate(data, "name")
		require.NoError(t, err)
		assert.Equal(t, "report", got)
	})

	t.Run("nested with index", func(t *testing.T) {
		got, err := Navigate(data, "data.items[1].name")
		require.NoError(t, err)
		assert.Equal(t, "second", got)
	})

	t.Run("missing key names the step", func(t *testing.T) {
		_, err := Navigate(data, "data.missing.x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"data.missing"`)
	})

	t.Run("index out of range", func(t *testing.T) {
		_, err := Navigate(data, "data.items[5]")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "out of range")
	})

	t.Run("index into non-array", func(t *testing.T) {
		_, err := Navigate(data, "name[0]")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not an array")
	})

	t.Run("key into scalar", func(t *testing.T) {
		_, err := Navigate(data, "name.sub")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not an object")
	})
}
