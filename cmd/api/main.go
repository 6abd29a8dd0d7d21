package main

import (
    "context"
    "errors"
    "flag"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    logrus "github.com/sirupsen/logrus"

    "tourplan/internal/api"
    "tourplan/internal/buildinfo"
    "tourplan/internal/config"
    "tourplan/internal/logging"
    "tourplan/internal/metrics"
)

func main() {
    configPath := flag.String("config", "", "path to a YAML config file")
    flag.Parse()

    cfg, err := config.Load(*configPath)
    if err != nil {
        logrus.WithError(err).Fatal("invalid configuration")
    }
    closer, err := logging.Setup(cfg.Log)
    if err != nil {
        logrus.WithError(err).Fatal("logging setup failed")
    }
    defer func() { _ = closer.Close() }()
    log := logging.Component("main")

    metrics.RegisterDefault()
    srv, err := api.NewServer(cfg)
    if err != nil {
        log.WithError(err).Fatal("failed to init server")
    }
    defer func() { _ = srv.Close() }()

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    // Start webhook worker
    srv.NewWebhookWorker().Start(ctx)

    httpSrv := &http.Server{
        Addr:              ":" + cfg.Port,
        Handler:           srv.Handler(),
        ReadHeaderTimeout: 5 * time.Second,
    }
    go func() {
        log.WithFields(logrus.Fields{"addr": httpSrv.Addr, "version": buildinfo.Version, "commit": buildinfo.Info()["commit"], "authMode": cfg.Auth.Mode}).Info("API listening")
        if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.WithError(err).Error("server error")
            stop()
        }
    }()

    <-ctx.Done()
    log.Info("shutting down")
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    if err := httpSrv.Shutdown(shutdownCtx); err != nil {
        log.WithError(err).Warn("graceful shutdown failed")
    }
}
