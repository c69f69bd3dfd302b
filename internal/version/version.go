// Package version хранит сведения о сборке, которые проставляются через -ldflags.
package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// UserAgent возвращает User-Agent для исходящих запросов к внешним API.
func UserAgent() string {
	return "sweetbar-oms/" + version
}
