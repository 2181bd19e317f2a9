package obs

import (
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portal_build_info",
			Help: "Portal API build information.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// InitBuildInfo publishes portal_build_info with value 1. An unset commit ("", "dev")
// falls back to the VCS revision stamped into the binary, when there is one.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	goVersion := "unknown"
	if bi, ok := debug.ReadBuildInfo(); ok {
		goVersion = bi.GoVersion
		if commit == "" || commit == "dev" {
			commit = vcsRevision(bi, commit)
		}
	}
	buildInfo.WithLabelValues(version, commit, goVersion).Set(1)
}

func vcsRevision(bi *debug.BuildInfo, fallback string) string {
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	if fallback == "" {
		return "dev"
	}
	return fallback
}
