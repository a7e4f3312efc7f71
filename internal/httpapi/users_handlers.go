package httpapi

import (
	"net/http"

	"kontakt.org/internal/auth"
)

func (a *API) handleMe(w http.ResponseWriter, r *http.Request, user auth.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
