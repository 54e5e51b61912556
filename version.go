package clawback

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Release of this build, following semantic versioning 2.0.0.
const (
	AppMajor uint = 0
	AppMinor uint = 1
	AppPatch uint = 0

	// AppStatus is the pre-release tag. It may only use characters of
	// semverAlphabet.
	AppStatus = "alpha"
)

// semverAlphabet is the set of characters allowed in a pre-release tag.
const semverAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz-"

var (
	// Commit can be set with -ldflags. Without it the vcs revision
	// recorded by the go toolchain is used.
	Commit string

	// GoVersion is the go version the binary was built with.
	GoVersion string
)

func init() {
	if strings.Trim(AppStatus, semverAlphabet) != "" {
		panic(fmt.Sprintf("app status %q is not a valid pre-release tag",
			AppStatus))
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	GoVersion = info.GoVersion
	if Commit != "" {
		return
	}

	var dirty bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			Commit = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	if Commit != "" && dirty {
		Commit += "-dirty"
	}
}

// SemanticVersion returns the release as a semver string, e.g. 0.1.0-alpha.
func SemanticVersion() string {
	version := fmt.Sprintf("%d.%d.%d", AppMajor, AppMinor, AppPatch)
	if AppStatus != "" {
		version += "-" + AppStatus
	}

	return version
}

// Version returns the release together with the commit it was built from.
func Version() string {
	if Commit == "" {
		return SemanticVersion()
	}

	return fmt.Sprintf("%s commit=%s", SemanticVersion(), Commit)
}

// UserAgent returns the user agent the named client announces to the node
// and wallet services.
func UserAgent(client string) string {
	return fmt.Sprintf("%s/%s clawback", client, SemanticVersion())
}
