// Package wavm is the top-level embedding API: it wires together the runtime object model
// (compartments, memories, tables, instances), the jitloader, invoke, and intrinsics packages
// behind the small surface an embedder actually needs to load a module and call into it.
package wavm

import (
	"context"

	"github.com/wavmgo/wavm/jitloader"
	"github.com/wavmgo/wavm/runtime"
)

// Features is a bitset of optional WebAssembly proposals this engine understands.
// InstantiateModule rejects a module that uses a proposal whose bit is off.
type Features uint64

const (
	// FeatureMutableGlobals enables importing and exporting mutable globals.
	FeatureMutableGlobals Features = 1 << iota
	// FeatureNonTrappingFloatToInt enables the saturating float-to-int conversion instructions.
	FeatureNonTrappingFloatToInt
	// FeatureSignExtension enables the sign-extension instructions.
	FeatureSignExtension
	// FeatureBulkMemory enables passive data/element segments and
	// memory.copy/fill/init and table.copy/fill/init.
	FeatureBulkMemory
	// FeatureExceptionHandling enables the tag section and throw/try/catch instructions.
	FeatureExceptionHandling
	// FeatureThreads enables shared memories and the atomic.wait/notify instructions.
	FeatureThreads
	// FeatureReferenceTypes enables externref, funcref globals, table.grow/fill, and
	// multiple tables.
	FeatureReferenceTypes
	// FeatureSIMD enables v128 values and the vector instruction set.
	FeatureSIMD
	// FeatureMultiValue enables function types with more than one result.
	FeatureMultiValue
	// FeatureMultiMemory enables more than one memory per module.
	FeatureMultiMemory
	// FeatureSharedTables enables tables with the shared flag.
	FeatureSharedTables
)

// FeaturesFinished is the default-enabled set: mutable global import/export, non-trapping
// float-to-int, sign extension, and bulk memory. Everything else is opt-in.
const FeaturesFinished = FeatureMutableGlobals | FeatureNonTrappingFloatToInt |
	FeatureSignExtension | FeatureBulkMemory

// Has reports whether f includes feature.
func (f Features) Has(feature Features) bool { return f&feature != 0 }

// Set returns f with feature enabled or disabled.
func (f Features) Set(feature Features, enabled bool) Features {
	if enabled {
		return f | feature
	}
	return f &^ feature
}

// RuntimeConfig controls process-wide engine behavior, with NewRuntimeConfig as the default
// implementation. Every With* method returns a clone, leaving the receiver unmodified.
type RuntimeConfig struct {
	enabledFeatures Features
	ctx             context.Context

	memoryMaxPages uint64
	tableMaxElems  uint64

	maxMemoryPagesQuota uint64
	maxTableElemsQuota  uint64
}

// NewRuntimeConfig returns the default configuration: the finished feature set, no quota caps
// beyond the implementation maximum, and context.Background as the default invocation context.
func NewRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		enabledFeatures: FeaturesFinished,
		ctx:             context.Background(),
		memoryMaxPages:  runtime.WasmPageSize32Max,
		tableMaxElems:   runtime.TableReservedElements - 1,
	}
}

func (c *RuntimeConfig) clone() *RuntimeConfig {
	cp := *c
	return &cp
}

// WithContext records ctx (context.Background if nil) as the config's default context. No
// invocation or instantiation path in this module reads it; it is stored on the config only.
func (c *RuntimeConfig) WithContext(ctx context.Context) *RuntimeConfig {
	if ctx == nil {
		ctx = context.Background()
	}
	ret := c.clone()
	ret.ctx = ctx
	return ret
}

// WithFeatureExceptionHandling toggles the exception-handling proposal.
func (c *RuntimeConfig) WithFeatureExceptionHandling(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(FeatureExceptionHandling, enabled)
	return ret
}

// WithFeatureThreads toggles the threads proposal (shared memories, atomic.wait/notify).
func (c *RuntimeConfig) WithFeatureThreads(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(FeatureThreads, enabled)
	return ret
}

// WithFeatureBulkMemory toggles the bulk-memory-operations proposal (passive segments,
// memory/table copy/fill/init).
func (c *RuntimeConfig) WithFeatureBulkMemory(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(FeatureBulkMemory, enabled)
	return ret
}

// WithFeatureReferenceTypes toggles the reference-types proposal (externref, funcref globals,
// multiple tables).
func (c *RuntimeConfig) WithFeatureReferenceTypes(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(FeatureReferenceTypes, enabled)
	return ret
}

// WithFeatureMultiValue toggles function types with more than one result.
func (c *RuntimeConfig) WithFeatureMultiValue(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(FeatureMultiValue, enabled)
	return ret
}

// WithFeatureMultiMemory toggles modules with more than one memory.
func (c *RuntimeConfig) WithFeatureMultiMemory(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(FeatureMultiMemory, enabled)
	return ret
}

// WithFeatureSIMD toggles v128 values and the vector instruction set.
func (c *RuntimeConfig) WithFeatureSIMD(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(FeatureSIMD, enabled)
	return ret
}

// WithMemoryMaxPages records memoryMaxPages on the config. No memory creation path in this module
// reads it: a memory's maximum comes from its MemoryType alone, and this value does not cap it.
func (c *RuntimeConfig) WithMemoryMaxPages(memoryMaxPages uint64) *RuntimeConfig {
	ret := c.clone()
	ret.memoryMaxPages = memoryMaxPages
	return ret
}

// WithResourceQuota caps the total memory pages and table elements that the instances created
// through one Runtime built from this config may allocate cumulatively. Each NewRuntime call
// creates its own ResourceQuota, so two Runtimes built from the same config do not share a count.
func (c *RuntimeConfig) WithResourceQuota(maxMemoryPages, maxTableElems uint64) *RuntimeConfig {
	ret := c.clone()
	ret.maxMemoryPagesQuota = maxMemoryPages
	ret.maxTableElemsQuota = maxTableElems
	return ret
}

// Runtime is the embedder-facing engine: one Loader (shared executable-module registry) plus the
// config it was built with.
type Runtime struct {
	config *RuntimeConfig
	loader *jitloader.Loader
	quota  *runtime.ResourceQuota
}

// NewRuntime constructs a Runtime from config. Pass nil for the default configuration.
func NewRuntime(config *RuntimeConfig) *Runtime {
	if config == nil {
		config = NewRuntimeConfig()
	}
	var quota *runtime.ResourceQuota
	if config.maxMemoryPagesQuota != 0 || config.maxTableElemsQuota != 0 {
		quota = runtime.NewResourceQuota(config.maxMemoryPagesQuota, config.maxTableElemsQuota)
	}
	return &Runtime{config: config, loader: jitloader.NewLoader(), quota: quota}
}

// Close releases every module this Runtime has loaded. Instances created from those modules must
// already be destroyed.
func (r *Runtime) Close() error {
	var firstErr error
	for _, lm := range r.loader.Modules() {
		if err := r.loader.Unload(lm); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
