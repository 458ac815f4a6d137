// Package variables holds the values shared between the steps of one iteration.
//
// Each iteration gets a fresh [Store] seeded with its input record. Steps set
// variables (for example values extracted from a response) and later steps read
// them back or expand {{name}} placeholders with them. Variables shadow record
// fields of the same name.
package variables

import (
	"context"
	"strings"
	"sync"
)

// Store defines the interface for iteration-scoped variable storage.
type Store interface {
	// Set stores a variable with the given key and value.
	Set(key, value string)

	// Get returns a variable, falling back to the iteration's input record.
	Get(key string) (string, bool)

	// GetAll returns a copy of the variables set so far, without record fields.
	GetAll() map[string]string

	// Merge combines variables with a record, where variables take precedence.
	Merge(record map[string]string) map[string]string

	// Expand replaces {{key}} placeholders with variables or record fields.
	// Unknown placeholders are left unchanged.
	Expand(template string) string

	// Clear removes all stored variables. The input record is kept.
	Clear()
}

// IterationStore is the Store of one iteration. Steps of an iteration run
// sequentially, but an action may fan out goroutines, so access is locked.
type IterationStore struct {
	mu        sync.RWMutex
	record    map[string]string
	variables map[string]string
}

// NewStore creates a store seeded with the iteration's input record, which may be nil.
func NewStore(record map[string]string) *IterationStore {
	return &IterationStore{
		record:    record,
		variables: make(map[string]string),
	}
}

// Set stores a variable with the given key and value.
func (s *IterationStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variables[key] = value
}

// SetAll stores every entry of values.
func (s *IterationStore) SetAll(values map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range values {
		s.variables[key] = value
	}
}

// Get retrieves a variable by key, then a record field. Returns ("", false)
// if neither holds the key.
func (s *IterationStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if value, ok := s.variables[key]; ok {
		return value, true
	}
	value, ok := s.record[key]
	return value, ok
}

// GetAll returns a copy of all stored variables.
func (s *IterationStore) GetAll() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]string, len(s.variables))
	for key, value := range s.variables {
		result[key] = value
	}
	return result
}

// Merge combines variables with a record, where variables
// take precedence over record values. Returns the merged map.
func (s *IterationStore) Merge(record map[string]string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mergeLocked(record)
}

func (s *IterationStore) mergeLocked(record map[string]string) map[string]string {
	result := make(map[string]string, len(record)+len(s.variables))
	for key, value := range record {
		result[key] = value
	}
	for key, value := range s.variables {
		result[key] = value
	}
	return result
}

// Expand replaces {{key}} placeholders in template.
func (s *IterationStore) Expand(template string) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	s.mu.RLock()
	values := s.mergeLocked(s.record)
	s.mu.RUnlock()

	result := template
	for key, value := range values {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}

// Clear removes all stored variables.
func (s *IterationStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variables = make(map[string]string)
}

type contextKey struct{}

var storeKey = contextKey{}

// FromContext retrieves the variable store from the context.
// Returns nil if not found.
func FromContext(ctx context.Context) Store {
	if ctx == nil {
		return nil
	}
	if s, ok := ctx.Value(storeKey).(Store); ok {
		return s
	}
	return nil
}

// NewContext returns a new context with the variable store attached.
func NewContext(ctx context.Context, store Store) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, storeKey, store)
}
