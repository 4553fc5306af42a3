package middleware

import (
	"net/http"
	"strings"

	"github.com/JonMunkholm/draftimport/internal/core"
)

// ImportedByHeader names the user an import is attributed to.
const ImportedByHeader = "X-Imported-By"

const maxImportedByLen = 128

// ImportedBy copies the X-Imported-By header into the request context,
// where the import service picks it up for new sessions.
func ImportedBy(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(ImportedByHeader))
		if user != "" {
			if len(user) > maxImportedByLen {
				user = user[:maxImportedByLen]
			}
			r = r.WithContext(core.ContextWithImportedBy(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}
