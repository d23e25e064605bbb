package logging

import "context"

type ctxArgsKey struct{}

// ContextWith returns a copy of ctx carrying key-value pairs that SlogLogger
// appends to every record logged with that context.
func ContextWith(ctx context.Context, args ...any) context.Context {
	prev := contextArgs(ctx)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(merged, prev...)
	merged = append(merged, args...)
	return context.WithValue(ctx, ctxArgsKey{}, merged)
}

func contextArgs(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	args, _ := ctx.Value(ctxArgsKey{}).([]any)
	return args
}

func withContextArgs(ctx context.Context, args []any) []any {
	extra := contextArgs(ctx)
	if len(extra) == 0 {
		return args
	}
	out := make([]any, 0, len(args)+len(extra))
	out = append(out, args...)
	return append(out, extra...)
}
