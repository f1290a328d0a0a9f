// Package version reports the build identity of the orderpush binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const (
	defaultModule  = "pkt.systems/orderpush"
	unknownVersion = "v0.0.0-unknown"
)

// buildVersion is set via -ldflags "-X pkt.systems/orderpush/internal/version.buildVersion=...".
var buildVersion = ""

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// Info describes the running build.
type Info struct {
	Version   string `json:"version"`
	Module    string `json:"module"`
	Revision  string `json:"revision,omitempty"`
	Time      string `json:"time,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"goVersion"`
}

// String renders the info on one line.
func (i Info) String() string {
	out := fmt.Sprintf("%s %s (%s)", i.Module, i.Version, i.GoVersion)
	if i.Revision != "" {
		out += " rev " + shortRevision(i.Revision)
	}
	return out
}

// Get returns the build info of the running binary.
func Get() Info {
	info := Info{
		Version:   Current(),
		Module:    defaultModule,
		GoVersion: runtime.Version(),
	}
	bi, ok := readBuildInfo()
	if !ok || bi == nil {
		return info
	}
	if path := strings.TrimSpace(bi.Main.Path); path != "" {
		info.Module = path
	}
	vcs := readVCS(bi)
	info.Revision = vcs.revision
	info.Time = vcs.time
	info.Modified = vcs.modified
	return info
}

// Current returns the best available version string.
func Current() string {
	if v := strings.TrimSpace(buildVersion); v != "" {
		return strings.TrimSuffix(v, "+dirty")
	}
	bi, ok := readBuildInfo()
	if !ok || bi == nil {
		return unknownVersion
	}
	if v := strings.TrimSpace(bi.Main.Version); v != "" && v != "(devel)" {
		return strings.TrimSuffix(v, "+dirty")
	}
	if v := pseudoVersion(readVCS(bi)); v != "" {
		return v
	}
	return unknownVersion
}

type vcsInfo struct {
	revision string
	time     string
	modified bool
}

func readVCS(bi *debug.BuildInfo) vcsInfo {
	var out vcsInfo
	if bi == nil {
		return out
	}
	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			out.revision = setting.Value
		case "vcs.time":
			out.time = setting.Value
		case "vcs.modified":
			out.modified = setting.Value == "true"
		}
	}
	return out
}

// pseudoVersion derives a Go style pseudo version from VCS stamps.
func pseudoVersion(vcs vcsInfo) string {
	if vcs.revision == "" || vcs.time == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, vcs.time)
	if err != nil {
		return ""
	}
	return "v0.0.0-" + parsed.UTC().Format("20060102150405") + "-" + shortRevision(vcs.revision)
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
