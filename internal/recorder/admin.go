package recorder

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/serialframe/internal/httputil"
	"github.com/banshee-data/serialframe/internal/monitoring"
	"github.com/banshee-data/serialframe/internal/security"
)

// AttachAdminRoutes mounts tailsql, a recent-packets JSON route and a gzip
// backup download under /debug/ on mux.
func (r *Recorder) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+r.path, r.DB, &tailsql.DBOptions{
		Label: "Packet recorder",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("recent-packets", "most recently recorded packets (JSON, ?limit=N)", func(w http.ResponseWriter, req *http.Request) {
		limit := DefaultRecentLimit
		if s := req.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				httputil.BadRequest(w, "invalid 'limit' parameter")
				return
			}
			limit = n
		}

		packets, err := r.Recent(req.Context(), limit)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to query packets: %v", err))
			return
		}
		if packets == nil {
			packets = []Packet{}
		}
		httputil.WriteJSONOK(w, packets)
	})

	debug.Handle("backup", "Create and download a backup of the packet database now", http.HandlerFunc(r.serveBackup))
	return nil
}

// Backup writes a consistent copy of the database to a new file in dir and
// returns its path.
func (r *Recorder) Backup(dir string) (string, error) {
	path, err := security.BackupPath(dir, "packets", r.clock.Now())
	if err != nil {
		return "", err
	}
	if _, err := r.Exec("VACUUM INTO ?", path); err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}
	return path, nil
}

func (r *Recorder) serveBackup(w http.ResponseWriter, req *http.Request) {
	backupPath, err := r.Backup(os.TempDir())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	// the temporary copy is removed once streamed
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("Failed to remove backup file: %v", err)
		}
	}()

	backupFile, err := os.Open(backupPath)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to open backup file: %v", err))
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(backupPath)))
	w.Header().Set("Content-Type", "application/gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		monitoring.Logf("Failed to stream backup: %v", err)
	}
}
