package obj

import (
	"github.com/Iron-Ham/hostbind/internal/cell"
	"github.com/Iron-Ham/hostbind/internal/config"
)

// OptionsFromConfig translates the cell, runtime and debug sections of cfg
// into runtime options.
func OptionsFromConfig(cfg *config.Config) ([]Option, error) {
	policy, err := cell.ParsePolicy(cfg.Cell.Policy)
	if err != nil {
		return nil, err
	}
	return []Option{
		WithPolicy(policy),
		WithLeakOnBoundDestroy(cfg.Runtime.LeakOnBoundDestroy),
		WithDestroyWait(cfg.Runtime.DestroyWait()),
		WithTraceFilter(cfg.Debug.TraceMatcher()),
	}, nil
}
