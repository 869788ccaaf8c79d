package registration

import (
	"fmt"

	"brainregister/internal/models"
)

// SourceError reports an input volume that could not be loaded. It is
// fatal for the branch that needed the volume; artifacts already
// persisted stay valid and are reused on the next run.
type SourceError struct {
	Path string
	Role models.Role
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s (%s) unreadable: %v", e.Path, e.Role, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// EngineError reports a failed registration- or transform-engine
// invocation. No partial parameter set is persisted when it occurs.
type EngineError struct {
	Edge models.Edge
	Op   string // "register" or "transform"
	Err  error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s engine failed on %s: %v", e.Op, e.Edge, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}
