package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ParseArguments decodes a ToolCall's raw JSON arguments. An empty string is
// treated as an empty object, which some vendors emit for no-arg tools.
func ParseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	return args, nil
}

// ValidateArgs checks parsed arguments against a tool's input schema:
// required fields present, declared types match, enum membership holds.
// Fields not named in the schema pass through unchecked.
func ValidateArgs(schema *InputSchema, args map[string]any) error {
	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("missing required field %q", name)
		}
	}
	for name, value := range args {
		prop, ok := schema.Properties[name]
		if !ok {
			continue
		}
		if err := validateValue(name, &prop, value); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(name string, prop *Property, value any) error {
	if value == nil {
		return nil
	}

	switch prop.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q: expected string, got %T", name, value)
		}
		if len(prop.Enum) > 0 && !containsString(prop.Enum, s) {
			return fmt.Errorf("field %q: value %q not in enum %v", name, s, prop.Enum)
		}
	case "number":
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("field %q: expected number, got %T", name, value)
		}
	case "integer":
		f, ok := value.(float64)
		if !ok || f != math.Trunc(f) {
			return fmt.Errorf("field %q: expected integer, got %v", name, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field %q: expected boolean, got %T", name, value)
		}
	case "array":
		items, ok := value.([]any)
		if !ok {
			return fmt.Errorf("field %q: expected array, got %T", name, value)
		}
		if prop.Items != nil {
			for i, item := range items {
				if err := validateValue(fmt.Sprintf("%s[%d]", name, i), prop.Items, item); err != nil {
					return err
				}
			}
		}
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("field %q: expected object, got %T", name, value)
		}
		for childName, childProp := range prop.Properties {
			if childProp == nil {
				continue
			}
			if childValue, present := obj[childName]; present {
				if err := validateValue(name+"."+childName, childProp, childValue); err != nil {
					return err
				}
			}
		}
	default:
		// Unknown type declarations are not enforced.
	}
	return nil
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
