// Package version reports build information for the cadence binary and
// exports it as a Prometheus gauge.
package version

import (
	"fmt"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/teranos/cadence/version.Version=v0.3.0 -X github.com/teranos/cadence/version.CommitHash=$(git rev-parse HEAD)"
var (
	CommitHash = "dev"
	BuildTime  = "unknown"
	Version    = "dev"
)

// Info describes the running binary
type Info struct {
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	Version    string `json:"version"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// Get returns the build information of this binary
func Get() Info {
	return Info{
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		Version:    Version,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("cadence %s (commit %s, built %s, %s %s)", i.Version, i.Short(), i.BuildTime, i.GoVersion, i.Platform)
}

// Short returns the abbreviated commit hash
func (i Info) Short() string {
	if len(i.CommitHash) > 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}

// RegisterBuildInfo registers cadence_build_info, a gauge fixed at 1 whose
// labels carry the version, commit and Go version.
func RegisterBuildInfo(r prometheus.Registerer) {
	if r == nil {
		return
	}
	info := Get()
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cadence",
		Name:      "build_info",
		Help:      "Gauge with labels describing the cadence version, git revision and Go version.",
	}, []string{"version", "revision", "goversion"})
	r.MustRegister(g)
	g.WithLabelValues(info.Version, info.CommitHash, info.GoVersion).Set(1)
}
