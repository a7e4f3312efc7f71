package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"kontakt.org/internal/audit"
	"kontakt.org/internal/auth"
	"kontakt.org/internal/contacts"
)

type favoriteRequest struct {
	Favorite *bool `json:"favorite"`
}

// handleContactsCollection serves GET/POST /api/contacts.
func (a *API) handleContactsCollection(w http.ResponseWriter, r *http.Request, user auth.User) {
	switch r.Method {
	case http.MethodGet:
		a.listContacts(w, r, user)
	case http.MethodPost:
		a.createContact(w, r, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleContactResource routes everything under /api/contacts/.
func (a *API) handleContactResource(w http.ResponseWriter, r *http.Request, user auth.User) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/contacts/"), "/")
	parts := strings.Split(rest, "/")

	switch {
	case rest == "":
		a.handleContactsCollection(w, r, user)
	case rest == "search":
		a.searchContacts(w, r, user)
	case rest == "search/birthdays":
		a.upcomingBirthdays(w, r, user)
	case len(parts) == 1:
		a.contactByID(w, r, user, parts[0])
	case len(parts) == 2 && parts[1] == "favorite":
		a.setFavorite(w, r, user, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) listContacts(w http.ResponseWriter, r *http.Request, user auth.User) {
	page, err := queryPage(r)
	if err != nil {
		handleContactsError(w, r, err)
		return
	}
	q := contacts.ListQuery{Page: page}
	if raw := r.URL.Query().Get("favorite"); raw != "" {
		fav, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, http.StatusUnprocessableEntity, "favorite must be a boolean")
			return
		}
		q.Favorite = &fav
	}
	list, err := a.contacts.List(r.Context(), user.ID, q)
	if err != nil {
		handleContactsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) createContact(w http.ResponseWriter, r *http.Request, user auth.User) {
	var in contacts.Input
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.contacts.Create(r.Context(), user.ID, in)
	if err != nil {
		handleContactsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) contactByID(w http.ResponseWriter, r *http.Request, user auth.User, id string) {
	switch r.Method {
	case http.MethodGet:
		c, err := a.contacts.Get(r.Context(), user.ID, id)
		if err != nil {
			handleContactsError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case http.MethodPut:
		var in contacts.Input
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		c, err := a.contacts.Update(r.Context(), user.ID, id, in)
		if err != nil {
			handleContactsError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case http.MethodDelete:
		c, err := a.contacts.Delete(r.Context(), user.ID, id)
		if err != nil {
			handleContactsError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), audit.EventContactDeleted, map[string]any{
			"contact_id": c.ID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) setFavorite(w http.ResponseWriter, r *http.Request, user auth.User, id string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	var req favoriteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Favorite == nil {
		writeError(w, r, http.StatusUnprocessableEntity, "favorite is required")
		return
	}
	c, err := a.contacts.SetFavorite(r.Context(), user.ID, id, *req.Favorite)
	if err != nil {
		handleContactsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) searchContacts(w http.ResponseWriter, r *http.Request, user auth.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	page, err := queryPage(r)
	if err != nil {
		handleContactsError(w, r, err)
		return
	}
	q := r.URL.Query()
	list, err := a.contacts.Search(r.Context(), user.ID, contacts.SearchQuery{
		Page:      page,
		FirstName: q.Get("first_name"),
		LastName:  q.Get("last_name"),
		Email:     q.Get("email"),
	})
	if err != nil {
		handleContactsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) upcomingBirthdays(w http.ResponseWriter, r *http.Request, user auth.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	page, err := queryPage(r)
	if err != nil {
		handleContactsError(w, r, err)
		return
	}
	days, err := queryDays(r)
	if err != nil {
		handleContactsError(w, r, err)
		return
	}
	list, err := a.contacts.UpcomingBirthdays(r.Context(), user.ID, contacts.BirthdayQuery{
		Page: page,
		Days: days,
		Now:  a.now(),
	})
	if err != nil {
		handleContactsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
