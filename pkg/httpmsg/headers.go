package httpmsg

import "strings"

type headerEntry struct {
	Name  string
	Value string
}

// Headers is an ordered, case-insensitive header map. Lookup is by lowercased
// name; emission preserves first-seen original casing and insertion order.
type Headers struct {
	order  []string
	values map[string]headerEntry
}

// NewHeaders returns an empty header map.
func NewHeaders() *Headers {
	return &Headers{values: make(map[string]headerEntry)}
}

// Set stores name/value, keyed case-insensitively. A later Set of the same name
// overwrites the value but keeps the insertion position and casing of the
// header's *first* occurrence.
func (h *Headers) Set(name, value string) {
	key := strings.ToLower(name)
	if _, ok := h.values[key]; !ok {
		h.order = append(h.order, key)
		h.values[key] = headerEntry{Name: name, Value: value}
		return
	}
	h.values[key] = headerEntry{Name: h.values[key].Name, Value: value}
}

// Get looks up a header case-insensitively.
func (h *Headers) Get(name string) (string, bool) {
	e, ok := h.values[strings.ToLower(name)]
	return e.Value, ok
}

// Del removes a header case-insensitively.
func (h *Headers) Del(name string) {
	key := strings.ToLower(name)
	if _, ok := h.values[key]; !ok {
		return
	}
	delete(h.values, key)
	for i, k := range h.order {
		if k == key {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of distinct headers.
func (h *Headers) Len() int { return len(h.order) }

// Each calls fn once per header in insertion order, with the original casing.
func (h *Headers) Each(fn func(name, value string)) {
	for _, key := range h.order {
		e := h.values[key]
		fn(e.Name, e.Value)
	}
}
