package api

import (
    "net/http"
    "time"

    "tourplan/internal/buildinfo"
    "tourplan/internal/model"
)

// DebugJSON reports build info and the effective configuration with secrets
// reduced to presence flags.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    if _, ok := s.authorize(w, r, model.RoleAdmin); !ok { return }
    c := s.Config
    writeJSON(w, http.StatusOK, map[string]any{
        "build": buildinfo.Info(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "config": map[string]any{
            "port":               c.Port,
            "authMode":           c.Auth.Mode,
            "allowOrigins":       c.AllowOrigins,
            "rateRps":            c.Rate.RPS,
            "rateBurst":          c.Rate.Burst,
            "webhookMaxAttempts": c.Webhooks.MaxAttempts,
            "averageSpeedKmh":    c.Opt.AverageSpeedKmh,
            "maxStops":           c.Opt.MaxStops,
            "twoOpt":             c.Opt.TwoOpt,
            "logLevel":           c.Log.Level,
            "hasDatabaseUrl":     c.DatabaseURL != "",
            "hasRedisUrl":        c.RedisURL != "",
            "hasHmacSecret":      c.Auth.HMACSecret != "",
        },
    })
}
