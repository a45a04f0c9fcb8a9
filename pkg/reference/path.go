package reference

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one step of a dotted path: either a map key or an array index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

func (s Segment) String() string {
	if s.IsIndex {
		return fmt.Sprintf("[%d]", s.Index)
	}
	return s.Key
}

// ParsePath splits a path like "data.items[0].name" into segments. Bracket
// groups are isolated first, then the remainder is split on dots.
func ParsePath(path string) ([]Segment, error) {
	if path == "" {
		return nil, nil
	}

	var segments []Segment
	rest := path
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '[')
		var head string
		if open < 0 {
			head, rest = rest, ""
		} else {
			head, rest = rest[:open], rest[open:]
		}

		for _, part := range strings.Split(head, ".") {
			if part == "" {
				continue
			}
			segments = append(segments, Segment{Key: part})
		}

		if rest == "" {
			break
		}
		close := strings.IndexByte(rest, ']')
		if close < 0 {
			return nil, fmt.Errorf("unterminated index in path %q", path)
		}
		idxText := rest[1:close]
		idx, err := strconv.Atoi(idxText)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("invalid array index %q in path %q", idxText, path)
		}
		segments = append(segments, Segment{Index: idx, IsIndex: true})
		rest = rest[close+1:]
		rest = strings.TrimPrefix(rest, ".")
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("empty path %q", path)
	}
	return segments, nil
}

// Navigate walks data along path and returns the addressed value. An empty
// path returns data unchanged. Missing keys, out-of-range indices, and
// non-indexable values produce an error naming the offending step.
func Navigate(data interface{}, path string) (interface{}, error) {
	segments, err := ParsePath(path)
	if err != nil {
		return nil, err
	}

	current := data
	var walked strings.Builder
	for _, seg := range segments {
		if seg.IsIndex {
			walked.WriteString(seg.String())
		} else {
			if walked.Len() > 0 {
				walked.WriteByte('.')
			}
			walked.WriteString(seg.Key)
		}
		at := walked.String()

		if seg.IsIndex {
			arr, ok := current.([]interface{})
			if !ok {
				return nil, fmt.Errorf("path %q: value at %q is not an array", path, at)
			}
			if seg.Index >= len(arr) {
				return nil, fmt.Errorf("path %q: index %d out of range at %q (length %d)", path, seg.Index, at, len(arr))
			}
			current = arr[seg.Index]
			continue
		}

		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("path %q: value at %q is not an object", path, at)
		}
		next, ok := obj[seg.Key]
		if !ok {
			return nil, fmt.Errorf("path %q: key %q not found", path, at)
		}
		current = next
	}
	return current, nil
}
