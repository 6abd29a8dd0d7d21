// Package buildinfo reports the running binary's version. Values set with
// -ldflags "-X" win; otherwise VCS stamps from the Go toolchain are used.
package buildinfo

import (
    "runtime/debug"
    "sync"
)

var (
    Version = "dev"
    Commit  = ""
    BuiltAt = ""
)

var (
    once sync.Once
    info map[string]string
)

func Info() map[string]string {
    once.Do(func() {
        info = map[string]string{"version": Version, "commit": Commit, "builtAt": BuiltAt, "goVersion": ""}
        bi, ok := debug.ReadBuildInfo()
        if !ok { return }
        info["goVersion"] = bi.GoVersion
        for _, s := range bi.Settings {
            switch s.Key {
            case "vcs.revision":
                if info["commit"] == "" { info["commit"] = s.Value }
            case "vcs.time":
                if info["builtAt"] == "" { info["builtAt"] = s.Value }
            case "vcs.modified":
                if s.Value == "true" { info["dirty"] = "true" }
            }
        }
    })
    out := make(map[string]string, len(info))
    for k, v := range info { out[k] = v }
    return out
}
