// Package wasmrt runs plugins compiled to WebAssembly on wazero. A module
// must export activate and deactivate, each returning an i32 status where
// zero means success. The host module "lokus" provides log_info, log_warn,
// log_error and notify, all taking a (ptr, len) string in linear memory.
package wasmrt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	wasmapi "github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/felixgeelhaar/lokus/internal/domain/api"
	"github.com/felixgeelhaar/lokus/internal/domain/plugin"
	"github.com/felixgeelhaar/lokus/internal/domain/sdk"
	"github.com/felixgeelhaar/lokus/internal/ports"
)

// Defaults for module execution.
const (
	DefaultCallTimeout     = 5 * time.Second
	DefaultMemoryLimitPage = 256 // 16 MiB
	maxModuleSize          = 32 * 1024 * 1024
	hostModule             = "lokus"
)

// Errors for module loading and execution.
var (
	ErrMissingExport = errors.New("wasm plugin must export activate and deactivate returning i32")
	ErrModuleTooBig  = errors.New("wasm module exceeds maximum size")
	ErrTimeout       = errors.New("wasm call timed out")
)

// StatusError reports a non-zero status returned by a lifecycle export.
type StatusError struct {
	Export string
	Status int32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Export, e.Status)
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger plugins log through.
func WithLogger(logger ports.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithCallTimeout bounds every export call.
func WithCallTimeout(d time.Duration) Option {
	return func(l *Loader) {
		l.timeout = d
	}
}

// WithMemoryLimitPages caps linear memory in 64 KiB pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(l *Loader) {
		l.memoryPages = pages
	}
}

// Loader loads plugins whose main is a .wasm module.
type Loader struct {
	logger      ports.Logger
	timeout     time.Duration
	memoryPages uint32
}

// NewLoader creates a WebAssembly loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{timeout: DefaultCallTimeout, memoryPages: DefaultMemoryLimitPage}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = ports.OrNop(l.logger)
	return l
}

// Name implements plugin.ModuleLoader.
func (l *Loader) Name() string {
	return "wasm"
}

// Supports implements plugin.ModuleLoader.
func (l *Loader) Supports(entry *plugin.Entry) bool {
	return entry.Manifest != nil && plugin.HasExtension(entry, ".wasm")
}

// Load compiles and instantiates the module in a runtime of its own.
func (l *Loader) Load(ctx context.Context, entry *plugin.Entry) (sdk.Plugin, error) {
	code, err := readModule(plugin.MainPath(entry))
	if err != nil {
		return nil, err
	}

	cfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(l.memoryPages)
	r := wazero.NewRuntimeWithConfig(ctx, cfg)

	p := &Plugin{
		runtime: r,
		timeout: l.timeout,
		logger:  l.logger.With(ports.F("plugin", entry.ID)),
	}
	if err := p.instantiate(ctx, entry, code); err != nil {
		_ = r.Close(ctx)
		return nil, err
	}
	return p, nil
}

func readModule(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wasm module: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, maxModuleSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read wasm module: %w", err)
	}
	if len(data) > maxModuleSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrModuleTooBig, maxModuleSize)
	}
	return data, nil
}

func (p *Plugin) instantiate(ctx context.Context, entry *plugin.Entry, code []byte) error {
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, p.runtime); err != nil {
		return fmt.Errorf("failed to instantiate WASI: %w", err)
	}
	if err := p.registerHostFunctions(ctx); err != nil {
		return fmt.Errorf("failed to register host functions: %w", err)
	}

	compiled, err := p.runtime.CompileModule(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to compile module: %w", err)
	}
	defer func() { _ = compiled.Close(ctx) }()

	exports := compiled.ExportedFunctions()
	for _, name := range []string{"activate", "deactivate"} {
		def, ok := exports[name]
		if !ok || len(def.ParamTypes()) != 0 || len(def.ResultTypes()) != 1 || def.ResultTypes()[0] != wasmapi.ValueTypeI32 {
			return fmt.Errorf("%w: %w", plugin.ErrInvalidPluginShape, ErrMissingExport)
		}
	}

	modConfig := wazero.NewModuleConfig().
		WithName(entry.ID).
		WithStartFunctions("_initialize")
	mod, err := p.runtime.InstantiateModule(ctx, compiled, modConfig)
	if err != nil {
		return fmt.Errorf("failed to instantiate module: %w", err)
	}
	p.module = mod
	return nil
}

// registerHostFunctions exports the lokus host module to the plugin.
func (p *Plugin) registerHostFunctions(ctx context.Context) error {
	builder := p.runtime.NewHostModuleBuilder(hostModule)

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wasmapi.Module, ptr, length uint32) {
			p.logger.Info(ctx, readString(m, ptr, length))
		}).
		Export("log_info")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wasmapi.Module, ptr, length uint32) {
			p.logger.Warn(ctx, readString(m, ptr, length))
		}).
		Export("log_warn")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wasmapi.Module, ptr, length uint32) {
			p.logger.Error(ctx, readString(m, ptr, length))
		}).
		Export("log_error")

	// notify returns 0 on success and 1 when the notification was refused.
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wasmapi.Module, ptr, length, kind uint32) uint32 {
			a := p.API()
			if a == nil {
				return 1
			}
			_, err := a.ShowNotification(api.Notification{
				Message: readString(m, ptr, length),
				Type:    notificationType(kind),
			})
			if err != nil {
				p.logger.Warn(ctx, "wasm notify failed", ports.Err(err))
				return 1
			}
			return 0
		}).
		Export("notify")

	_, err := builder.Instantiate(ctx)
	return err
}

func notificationType(kind uint32) api.NotificationType {
	switch kind {
	case 1:
		return api.NotifySuccess
	case 2:
		return api.NotifyWarning
	case 3:
		return api.NotifyError
	default:
		return api.NotifyInfo
	}
}

// readString reads a string from WASM memory.
func readString(m wasmapi.Module, ptr, length uint32) string {
	if m == nil || length == 0 {
		return ""
	}
	mem := m.Memory()
	if mem == nil {
		return ""
	}
	data, ok := mem.Read(ptr, length)
	if !ok {
		return ""
	}
	return string(data)
}

// Plugin is an instantiated WebAssembly module.
type Plugin struct {
	sdk.Base

	mu      sync.Mutex
	runtime wazero.Runtime
	module  wasmapi.Module
	timeout time.Duration
	logger  ports.Logger
}

// Activate calls the module's activate export.
func (p *Plugin) Activate(ctx context.Context) error {
	if err := p.Base.Activate(ctx); err != nil {
		return err
	}
	if err := p.call(ctx, "activate"); err != nil {
		_ = p.Base.Deactivate(ctx)
		return err
	}
	return nil
}

// Deactivate calls the module's deactivate export.
func (p *Plugin) Deactivate(ctx context.Context) error {
	err := p.call(ctx, "deactivate")
	if baseErr := p.Base.Deactivate(ctx); baseErr != nil {
		return baseErr
	}
	return err
}

// Cleanup releases registrations and closes the runtime.
func (p *Plugin) Cleanup(ctx context.Context) error {
	err := p.Base.Cleanup(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runtime != nil {
		if closeErr := p.runtime.Close(ctx); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		p.runtime = nil
		p.module = nil
	}
	return err
}

func (p *Plugin) call(ctx context.Context, export string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.module == nil {
		return fmt.Errorf("%s: module is closed", export)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	results, err := p.module.ExportedFunction(export).Call(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", export, ErrTimeout)
		}
		return fmt.Errorf("%s failed: %w", export, err)
	}
	if status := wasmapi.DecodeI32(results[0]); status != 0 {
		return &StatusError{Export: export, Status: status}
	}
	return nil
}

var _ sdk.Plugin = (*Plugin)(nil)
