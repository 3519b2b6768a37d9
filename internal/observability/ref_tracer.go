package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Sumatoshi-tech/objrt/pkg/refcount"
	"github.com/Sumatoshi-tech/objrt/pkg/typeid"
)

// RefTracer logs retain and release transitions at debug level.
type RefTracer struct {
	logger *slog.Logger
}

var _ refcount.Tracer = (*RefTracer)(nil)

// NewRefTracer returns a tracer writing to logger.
func NewRefTracer(logger *slog.Logger) *RefTracer {
	return &RefTracer{logger: logger}
}

// Retained implements [refcount.Tracer].
func (rt *RefTracer) Retained(obj *refcount.Object, tag any, total int) {
	rt.log("retain", obj, tag, total)
}

// Released implements [refcount.Tracer].
func (rt *RefTracer) Released(obj *refcount.Object, tag any, total int) {
	rt.log("release", obj, tag, total)
}

func (rt *RefTracer) log(event string, obj *refcount.Object, tag any, total int) {
	ctx := context.Background()
	if !rt.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}

	rt.logger.LogAttrs(ctx, slog.LevelDebug, "refcount "+event,
		slog.String("kind", obj.Kind().Name()),
		slog.String("tag", tagName(tag)),
		slog.Int("total", total),
		slog.Int("tagged", obj.TaggedCount()),
	)
}

func tagName(tag any) string {
	switch t := tag.(type) {
	case nil:
		return "-"
	case *typeid.ID:
		return t.Name()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%T", tag)
	}
}
