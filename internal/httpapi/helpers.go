package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"kontakt.org/internal/auth"
	"kontakt.org/internal/contacts"
	"kontakt.org/internal/obs"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// queryInt reads an optional integer query parameter; ok reports whether it was given.
func queryInt(r *http.Request, name string) (v int, ok bool, err error) {
	if !r.URL.Query().Has(name) {
		return 0, false, nil
	}
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	v, err = strconv.Atoi(raw)
	if err != nil {
		return 0, true, fmt.Errorf("%w: %s must be an integer", contacts.ErrInvalidInput, name)
	}
	return v, true, nil
}

// queryPage reads skip/limit. An explicit limit is range-checked as given,
// so limit=0 is rejected instead of falling back to the default.
func queryPage(r *http.Request) (contacts.Page, error) {
	skip, _, err := queryInt(r, "skip")
	if err != nil {
		return contacts.Page{}, err
	}
	limit, ok, err := queryInt(r, "limit")
	if err != nil {
		return contacts.Page{}, err
	}
	if ok {
		if err := contacts.CheckLimit(limit); err != nil {
			return contacts.Page{}, err
		}
	}
	return contacts.Page{Skip: skip, Limit: limit}, nil
}

// queryDays reads the birthday window; an explicit value must be in range.
func queryDays(r *http.Request) (int, error) {
	days, ok, err := queryInt(r, "days")
	if err != nil || !ok {
		return 0, err
	}
	if err := contacts.CheckWindowDays(days); err != nil {
		return 0, err
	}
	return days, nil
}

func handleContactsError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, contacts.ErrInvalidInput):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, contacts.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "contact with this email already exists")
	case errors.Is(err, contacts.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	default:
		internalError(w, r, err)
	}
}

// handleAuthError maps auth failures to minimal client messages.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "account already exists")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrNotConfirmed):
		writeError(w, r, http.StatusUnauthorized, "email not confirmed")
	case errors.Is(err, auth.ErrRefreshRevoked):
		writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
	case errors.Is(err, auth.ErrUnauthenticated), auth.IsTokenError(err):
		unauthorized(w, r)
	default:
		internalError(w, r, err)
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, r, http.StatusUnauthorized, "could not validate credentials")
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	obs.Logger().Error("request_failed",
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, r, http.StatusInternalServerError, "internal error")
}
