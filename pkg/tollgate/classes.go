package tollgate

import (
	"maps"
	"strings"
	"sync"

	"github.com/KanavDutta/tollgate/core"
)

// DefaultClass is the class of keys whose class is not configured.
const DefaultClass = "default"

// classSeparator splits the class from the rest of a key by default.
const classSeparator = ":"

// Classifier maps a rate limit key to its class name.
type Classifier func(key string) string

// PrefixClassifier uses the part of the key before the first sep as its
// class. Keys without sep belong to DefaultClass.
//
//	PrefixClassifier(":")("login:10.0.0.1") == "login"
func PrefixClassifier(sep string) Classifier {
	return func(key string) string {
		class, _, found := strings.Cut(key, sep)
		if !found {
			return DefaultClass
		}
		return class
	}
}

type classRegistry struct {
	mu      sync.RWMutex
	classes map[string]core.Params
}

func newClassRegistry(defaults core.Params) *classRegistry {
	return &classRegistry{
		classes: map[string]core.Params{DefaultClass: defaults},
	}
}

// resolve returns the effective class and its params. Unknown classes fall
// back to DefaultClass.
func (r *classRegistry) resolve(class string) (string, core.Params) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.classes[class]; ok {
		return class, p
	}
	return DefaultClass, r.classes[DefaultClass]
}

// set stores params for class and reports whether anything changed.
func (r *classRegistry) set(class string, p core.Params) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.classes[class]; ok && cur == p {
		return false
	}
	r.classes[class] = p
	return true
}

func (r *classRegistry) snapshot() map[string]core.Params {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.classes)
}
