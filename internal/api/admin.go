package api

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/sowhat82/cravemap/internal/admin"
	"github.com/sowhat82/cravemap/internal/types"
)

type backupResponse struct {
	Snapshot string `json:"snapshot"`
}

// HandleBackup triggers a record store snapshot. The route is protected by
// the admin API key, presented in the X-Admin-Key header and verified
// against the configured bcrypt hash.
func (s *Server) HandleBackup(w http.ResponseWriter, r *http.Request) {
	if err := admin.VerifyAPIKey(s.Config.Admin.APIKeyHash, r.Header.Get("X-Admin-Key")); err != nil {
		Error(w, r, err)
		return
	}

	if s.Backups == nil {
		Error(w, r, types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"snapshots are not available for this store backend", nil))
		return
	}

	path, err := s.Backups.Snapshot(r.Context(), time.Now().UTC())
	if err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusOK, backupResponse{Snapshot: filepath.Base(path)})
}
