package model

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// fieldSegmentRegex matches a path segment with an optional array index,
// e.g. "indicators[0]" or "context".
var fieldSegmentRegex = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(?:\[(\d+)\])?$`)

// GetField retrieves a value from a SecurityEvent using a dot-notation path
// with optional bracket indices. Paths resolve against the event's struct
// fields (by json tag) and descend into the context map.
//
// Examples:
//   - GetField(event, "severity") -> "high"
//   - GetField(event, "indicators[0]") -> "1.2.3.4"
//   - GetField(event, "context.source_ip") -> "10.0.0.5"
func GetField(event *SecurityEvent, path string) (interface{}, error) {
	if event == nil {
		return nil, fmt.Errorf("event is nil")
	}
	if path == "" {
		return nil, fmt.Errorf("path is empty")
	}
	return resolve(reflect.ValueOf(event), splitPath(path), path)
}

// GetFieldAsString retrieves a field rendered as a string. A missing value
// yields an error so callers can distinguish absent from empty.
func GetFieldAsString(event *SecurityEvent, path string) (string, error) {
	value, err := GetField(event, path)
	if err != nil {
		return "", err
	}
	if value == nil {
		return "", fmt.Errorf("field %q is not set", path)
	}
	return fmt.Sprintf("%v", value), nil
}

// HasField reports whether the path resolves to a non-nil value.
func HasField(event *SecurityEvent, path string) bool {
	value, err := GetField(event, path)
	return err == nil && value != nil
}

type pathPart struct {
	name  string
	index int // -1 when no index
}

func splitPath(path string) []pathPart {
	segments := strings.Split(path, ".")
	parts := make([]pathPart, 0, len(segments))
	for _, segment := range segments {
		match := fieldSegmentRegex.FindStringSubmatch(segment)
		if match == nil {
			parts = append(parts, pathPart{name: segment, index: -1})
			continue
		}
		index := -1
		if match[2] != "" {
			if idx, err := strconv.Atoi(match[2]); err == nil {
				index = idx
			}
		}
		parts = append(parts, pathPart{name: match[1], index: index})
	}
	return parts
}

func resolve(v reflect.Value, parts []pathPart, fullPath string) (interface{}, error) {
	if len(parts) == 0 {
		return extract(v), nil
	}

	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}

	part := parts[0]
	rest := parts[1:]

	switch v.Kind() {
	case reflect.Struct:
		field := findField(v, part.name)
		if !field.IsValid() {
			return nil, fmt.Errorf("field %q not found in path %q", part.name, fullPath)
		}
		if part.index >= 0 {
			return indexInto(field, part.index, rest, fullPath)
		}
		return resolve(field, rest, fullPath)

	case reflect.Map:
		mapVal := v.MapIndex(reflect.ValueOf(part.name))
		if !mapVal.IsValid() {
			return nil, nil
		}
		if part.index >= 0 {
			return indexInto(mapVal, part.index, rest, fullPath)
		}
		return resolve(mapVal, rest, fullPath)

	case reflect.Slice, reflect.Array:
		if part.index >= 0 {
			return indexInto(v, part.index, rest, fullPath)
		}
		return nil, fmt.Errorf("expected index for slice at %q", part.name)

	default:
		return nil, fmt.Errorf("cannot descend into %s at %q", v.Kind(), part.name)
	}
}

func indexInto(v reflect.Value, index int, rest []pathPart, fullPath string) (interface{}, error) {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected slice at %q", fullPath)
	}
	if index < 0 || index >= v.Len() {
		return nil, nil
	}
	return resolve(v.Index(index), rest, fullPath)
}

// findField matches a struct field by json tag or snake_case field name.
func findField(v reflect.Value, name string) reflect.Value {
	t := v.Type()
	want := strings.ToLower(name)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if jsonTag := field.Tag.Get("json"); jsonTag != "" {
			if strings.ToLower(strings.Split(jsonTag, ",")[0]) == want {
				return v.Field(i)
			}
		}
		if strings.ToLower(field.Name) == want {
			return v.Field(i)
		}
	}
	return reflect.Value{}
}

func extract(v reflect.Value) interface{} {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil
	}
	return v.Interface()
}
