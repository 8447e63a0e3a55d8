// Package tollgate re-exports the limiter API from pkg/tollgate.
package tollgate

import (
	"github.com/KanavDutta/tollgate/middleware"
	"github.com/KanavDutta/tollgate/pkg/tollgate"
)

// Re-export main types for convenience
type (
	Limiter       = tollgate.Limiter
	Decision      = tollgate.Decision
	Option        = tollgate.Option
	Config        = tollgate.Config
	ClassConfig   = tollgate.ClassConfig
	FailurePolicy = tollgate.FailurePolicy
	KeyExtractor  = middleware.KeyExtractor
)

const (
	FailOpen     = tollgate.FailOpen
	FailClosed   = tollgate.FailClosed
	DefaultClass = tollgate.DefaultClass
)

var (
	// New creates a new limiter
	New = tollgate.New

	// RateLimit wraps an http.Handler with admission control
	RateLimit = middleware.RateLimit

	WithDefaults      = tollgate.WithDefaults
	WithClass         = tollgate.WithClass
	WithFailurePolicy = tollgate.WithFailurePolicy
	WithConfigFile    = tollgate.WithConfigFile
	WithStore         = tollgate.WithStore
	WithLogger        = tollgate.WithLogger
)
