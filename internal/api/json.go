package api

import (
    "encoding/json"
    "errors"
    "net/http"
    "strconv"

    logrus "github.com/sirupsen/logrus"

    "tourplan/internal/auth"
    "tourplan/internal/opt"
    "tourplan/internal/planning"
    "tourplan/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
    Type     string `json:"type"`
    Title    string `json:"title"`
    Status   int    `json:"status"`
    Detail   string `json:"detail,omitempty"`
    Instance string `json:"instance,omitempty"`
    Field    string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
    w.Header().Set("Content-Type", "application/problem+json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(Problem{
        Type:     "about:blank",
        Title:    title,
        Status:   status,
        Detail:   detail,
        Instance: instance,
    })
}

// writeError maps domain errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, title string, err error) {
    var ce *planning.ConfigError
    switch {
    case errors.As(err, &ce):
        w.Header().Set("Content-Type", "application/problem+json")
        w.WriteHeader(http.StatusUnprocessableEntity)
        _ = json.NewEncoder(w).Encode(Problem{Type: "about:blank", Title: title, Status: http.StatusUnprocessableEntity, Detail: err.Error(), Instance: r.URL.Path, Field: ce.Field})
    case errors.Is(err, opt.ErrUnsupportedAlgorithm):
        writeProblem(w, http.StatusBadRequest, title, err.Error(), r.URL.Path)
    case errors.Is(err, opt.ErrEmptyResult):
        writeProblem(w, http.StatusUnprocessableEntity, title, err.Error(), r.URL.Path)
    case errors.Is(err, store.ErrNotFound):
        writeProblem(w, http.StatusNotFound, title, err.Error(), r.URL.Path)
    case errors.Is(err, store.ErrConflict):
        writeProblem(w, http.StatusConflict, title, err.Error(), r.URL.Path)
    case errors.Is(err, auth.ErrBadCredentials), errors.Is(err, auth.ErrInvalidToken):
        writeProblem(w, http.StatusUnauthorized, title, err.Error(), r.URL.Path)
    default:
        logrus.WithFields(logrus.Fields{"component": "api", "path": r.URL.Path}).WithError(err).Error(title)
        writeProblem(w, http.StatusInternalServerError, title, err.Error(), r.URL.Path)
    }
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
    r.Body = http.MaxBytesReader(w, r.Body, 4<<20)
    if err := json.NewDecoder(r.Body).Decode(v); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return false
    }
    return true
}

// pageParams reads cursor and limit; the store clamps limit.
func pageParams(r *http.Request) (string, int) {
    limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
    return r.URL.Query().Get("cursor"), limit
}
