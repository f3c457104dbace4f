package server

import (
	"net/http"
	"path"
	"strings"
)

// staticFiles serves files that exist under dir, mounted at base, and hands
// every other request to next. Directories are never listed or indexed, so
// "/" always reaches the renderer.
func staticFiles(dir string, base string, next http.Handler) http.Handler {
	root := http.Dir(dir)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		rel, ok := strings.CutPrefix(r.URL.Path, base)
		if !ok || rel == "" {
			next.ServeHTTP(w, r)
			return
		}

		// http.Dir confines the lookup to dir.
		f, err := root.Open(path.Clean("/" + rel))
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			next.ServeHTTP(w, r)
			return
		}

		// Built assets carry content hashes in their names.
		if strings.HasPrefix(rel, "assets/") {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		}
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	})
}
