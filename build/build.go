package build

import (
	"fmt"
	"runtime/debug"
)

var (
	// To set version number, build with:
	// $ go build -ldflags "-X github.com/actionforge/flowrun/build.Version=v1.2.3"
	Version string

	Production string
)

func GetBuildSettings() (map[string]string, bool) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return nil, false
	}

	settings := map[string]string{
		"go": bi.GoVersion,
	}
	for _, s := range bi.Settings {
		settings[s.Key] = s.Value
	}
	return settings, true
}

func IsProduction() bool {
	return Production == "true"
}

func GetAppVersion() string {
	if Version != "" {
		return Version
	}
	return "development build"
}

func GetFullVersionInfo() string {
	bi, ok := GetBuildSettings()
	if !ok {
		return "invalid build info"
	}

	version := Version
	if version == "" {
		version = "unknown"
	}

	modified := ""
	if bi["vcs.modified"] == "true" {
		modified = ", workdir modified"
	}

	revision := bi["vcs.revision"]
	if len(revision) > 8 {
		revision = revision[:8]
	}

	mode := "dev"
	if IsProduction() {
		mode = "prod"
	}

	return fmt.Sprintf("%s (%s, %s %s, %s, %s, %s%s)", version, mode, bi["GOOS"], bi["GOARCH"], bi["go"], bi["vcs.time"], revision, modified)
}
