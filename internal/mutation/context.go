package mutation

import "context"

type contextKey struct{}

// Context описывает источник текущей мутации. Передается подписчикам
// изменений вместе с результатом применения.
type Context struct {
	Meta     map[string]string
	Source   string // "local", "sync", "import", "repair"
	Undoable bool
}

// Sources мутаций
const (
	SourceLocal  = "local"
	SourceSync   = "sync"
	SourceImport = "import"
	SourceRepair = "repair"
)

// ContextFrom возвращает контекст мутации. По умолчанию локальная,
// отменяемая мутация.
func ContextFrom(ctx context.Context) Context {
	if mc, ok := ctx.Value(contextKey{}).(Context); ok {
		return mc
	}
	return Context{Source: SourceLocal, Undoable: true}
}

// WithContext накладывает overlay на текущий контекст мутации.
// Пустые поля overlay не меняют значения, Meta объединяется.
func WithContext(ctx context.Context, overlay Context) context.Context {
	current := ContextFrom(ctx)

	merged := Context{
		Source:   current.Source,
		Undoable: overlay.Undoable,
	}
	if overlay.Source != "" {
		merged.Source = overlay.Source
	}
	if len(current.Meta)+len(overlay.Meta) > 0 {
		merged.Meta = make(map[string]string, len(current.Meta)+len(overlay.Meta))
		for k, v := range current.Meta {
			merged.Meta[k] = v
		}
		for k, v := range overlay.Meta {
			merged.Meta[k] = v
		}
	}
	return context.WithValue(ctx, contextKey{}, merged)
}

// RunWithContext выполняет fn с контекстом мутации, дополненным overlay.
// Изменение действует только внутри fn.
func RunWithContext(ctx context.Context, overlay Context, fn func(ctx context.Context) error) error {
	return fn(WithContext(ctx, overlay))
}
