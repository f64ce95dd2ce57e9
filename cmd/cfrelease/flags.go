package main

import (
	"fmt"
	"sort"
	"strings"
)

// keyValueFlag collects repeated --set key=value overrides.
type keyValueFlag map[string]string

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(*kv))
	for key, value := range *kv {
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, value))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ", ")
}

func (kv *keyValueFlag) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("override key is empty in %q", value)
	}
	if *kv == nil {
		*kv = keyValueFlag{}
	}
	(*kv)[key] = val
	return nil
}

func (kv *keyValueFlag) Type() string { return "key=value" }
