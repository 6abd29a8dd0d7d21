package logging

import (
    "io"
    "os"
    "time"

    "github.com/natefinch/lumberjack"
    logrus "github.com/sirupsen/logrus"

    "tourplan/internal/config"
)

// Setup configures the standard logrus logger: stdout always, plus a rotating
// file when cfg.File is set. The returned closer flushes the rotator.
func Setup(cfg config.Log) (io.Closer, error) {
    level, err := logrus.ParseLevel(orDefault(cfg.Level, "info"))
    if err != nil { return nil, err }
    logrus.SetLevel(level)
    if cfg.Format == "json" {
        logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
    } else {
        logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
    }
    if cfg.File == "" {
        logrus.SetOutput(os.Stdout)
        return nopCloser{}, nil
    }
    rotator := &lumberjack.Logger{
        Filename:   cfg.File,
        MaxSize:    10, // megabytes
        MaxBackups: 7,
        MaxAge:     7, // days
        Compress:   true,
    }
    logrus.SetOutput(io.MultiWriter(os.Stdout, rotator))
    return rotator, nil
}

// Component returns a logger tagged with the component name.
func Component(name string) *logrus.Entry {
    return logrus.WithField("component", name)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func orDefault(v, d string) string {
    if v == "" { return d }
    return v
}
