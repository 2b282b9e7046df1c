// Package buildinfo holds release metadata stamped by the linker, e.g.
//
//	go build -ldflags "-X github.com/m3rciful/dispatchbot/core/buildinfo.Version=v0.3.0"
package buildinfo

var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// String renders version, commit and date as one token for the startup line.
func String() string {
	s := Version
	if Commit != "" {
		s += "+" + Commit
	}
	if Date != "" {
		s += "@" + Date
	}
	return s
}
