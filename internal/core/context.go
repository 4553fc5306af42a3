package core

import "context"

type contextKey string

const ctxKeyImportedBy contextKey = "imported_by"

// ContextWithImportedBy records who started an import.
func ContextWithImportedBy(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, ctxKeyImportedBy, user)
}

// ImportedByFromContext returns the user stored by ContextWithImportedBy.
func ImportedByFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyImportedBy).(string); ok {
		return v
	}
	return ""
}
