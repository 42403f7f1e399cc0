package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// WorkshopSelection records, per workshop id, whether the case opted in.
type WorkshopSelection map[string]bool

// ParseWorkshopSelection normalizes the loosely typed selection blob produced
// by intake forms. Values may be booleans, the strings "true"/"false"/"on"/
// "1"/"0", or the numbers 1 and 0. A JSON array of ids selects each listed
// workshop.
func ParseWorkshopSelection(raw json.RawMessage) (WorkshopSelection, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return WorkshopSelection{}, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var ids []string
		if err := json.Unmarshal(raw, &ids); err != nil {
			return nil, fmt.Errorf("%w: workshop selection: %v", ErrInvalidInput, err)
		}
		out := make(WorkshopSelection, len(ids))
		for _, id := range ids {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			out[id] = true
		}
		return out, nil
	}

	var loose map[string]any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil, fmt.Errorf("%w: workshop selection: %v", ErrInvalidInput, err)
	}
	out := make(WorkshopSelection, len(loose))
	for key, value := range loose {
		id := strings.TrimSpace(key)
		if id == "" {
			continue
		}
		selected, ok := truthy(value)
		if !ok {
			return nil, fmt.Errorf("%w: workshop selection %q has unsupported value %v", ErrInvalidInput, id, value)
		}
		out[id] = selected
	}
	return out, nil
}

func truthy(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case float64:
		switch val {
		case 1:
			return true, true
		case 0:
			return false, true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "on", "yes", "1":
			return true, true
		case "false", "off", "no", "0", "":
			return false, true
		}
	case nil:
		return false, true
	}
	return false, false
}

// Selected returns the ids marked true, sorted.
func (s WorkshopSelection) Selected() []string {
	out := make([]string, 0, len(s))
	for id, selected := range s {
		if selected {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (s WorkshopSelection) Clone() WorkshopSelection {
	out := make(WorkshopSelection, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
