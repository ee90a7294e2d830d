package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
)

// AppName is the default service name reported when none is configured.
const AppName = "gatekeeper"

// Build metadata injected from main via SetVersionInfo.
var build = struct {
	version   string
	commit    string
	buildDate string
}{"dev", "unknown", "unknown"}

// SetVersionInfo records the build metadata served by /version.
func SetVersionInfo(version, commit, buildDate string) {
	build.version = version
	build.commit = commit
	build.buildDate = buildDate
}

// Version returns the build version set by SetVersionInfo.
func Version() string {
	return build.version
}

// VersionResponse is returned by GET /version.
type VersionResponse struct {
	Service      string      `json:"service"`
	Version      string      `json:"version"`
	Commit       string      `json:"git_commit"`
	BuildDate    string      `json:"build_date"`
	Uptime       int64       `json:"uptime_seconds"`
	Dependencies DepInfo     `json:"dependencies"`
	Runtime      RuntimeInfo `json:"runtime"`
}

// DepInfo contains dependency version information
type DepInfo struct {
	Gofulmen string `json:"gofulmen"`
	Crucible string `json:"crucible"`
}

// RuntimeInfo describes the process serving the request.
type RuntimeInfo struct {
	GoVersion     string `json:"go_version"`
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
}

// NewVersionHandler serves build metadata for service. Uptime is measured
// from started.
func NewVersionHandler(service string, started time.Time) http.HandlerFunc {
	deps := crucible.GetVersion()
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, VersionResponse{
			Service:   service,
			Version:   build.version,
			Commit:    build.commit,
			BuildDate: build.buildDate,
			Uptime:    int64(time.Since(started).Seconds()),
			Dependencies: DepInfo{
				Gofulmen: deps.Gofulmen,
				Crucible: deps.Crucible,
			},
			Runtime: RuntimeInfo{
				GoVersion:     runtime.Version(),
				Platform:      runtime.GOOS + "/" + runtime.GOARCH,
				NumCPU:        runtime.NumCPU(),
				NumGoroutines: runtime.NumGoroutine(),
			},
		})
	}
}
