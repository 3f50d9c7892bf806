package harness

import (
	"context"

	"go.uber.org/zap"

	"github.com/wasmdiff/harness/engine"
)

// DefaultEntryExport is the export invoked when Config does not name one.
const DefaultEntryExport = "main"

// Config holds configuration for harness creation.
type Config struct {
	// Logger for harness activity. Nil means no-op.
	Logger *zap.Logger

	// EntryExport is the exported function CompileAndRun and the
	// differential runner invoke. Empty means DefaultEntryExport.
	EntryExport string

	// MemoryLimitPages caps compiled-path instance memory; 0 uses the
	// engine default.
	MemoryLimitPages uint32
}

// Harness binds one engine and its configuration. Each fuzz worker
// creates its own Harness; nothing is shared between instances, so
// independent workers never contend on engine state.
type Harness struct {
	engine *engine.Engine
	log    *zap.Logger
	entry  string
}

// New creates an isolated harness with its own engine.
func New(ctx context.Context, cfg Config) *Harness {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	entry := cfg.EntryExport
	if entry == "" {
		entry = DefaultEntryExport
	}

	eng := engine.NewWithConfig(ctx, &engine.Config{
		MemoryLimitPages: cfg.MemoryLimitPages,
	})

	return &Harness{engine: eng, log: log, entry: entry}
}

// EntryExport returns the configured entry export name.
func (h *Harness) EntryExport() string {
	return h.entry
}

// Close releases the engine and everything compiled through it.
func (h *Harness) Close(ctx context.Context) error {
	return h.engine.Close(ctx)
}
