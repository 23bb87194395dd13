package dashboard

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
)

// Handler returns an http.Handler serving the dashboard build in dir.
// Paths are relative to the handler's mount point; strip any prefix first.
func Handler(dir string) (http.Handler, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dashboard: %s is not a directory", dir)
	}
	if _, err := os.Stat(filepath.Join(dir, "index.html")); err != nil {
		return nil, fmt.Errorf("dashboard: missing index.html: %w", err)
	}
	return spaHandler(http.Dir(dir)), nil
}

func spaHandler(fileSystem http.FileSystem) http.Handler {
	fileServer := http.FileServer(fileSystem)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Always revalidate so a redeployed build is picked up.
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		upath := path.Clean("/" + r.URL.Path)
		if upath == "/" {
			fileServer.ServeHTTP(w, r)
			return
		}

		f, err := fileSystem.Open(upath)
		if err != nil {
			r.URL.Path = "/"
			fileServer.ServeHTTP(w, r)
			return
		}
		f.Close()

		fileServer.ServeHTTP(w, r)
	})
}
