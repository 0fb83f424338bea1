package config

// Linker-injected build metadata, for example:
//
//	go build -ldflags "-X podconnect/internal/config.version=1.2.3 \
//	    -X podconnect/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X podconnect/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo constructs a BuildInfo from the linker-injected variables.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// UserAgent renders the build as an HTTP User-Agent product token.
func (b BuildInfo) UserAgent(service string) string {
	return service + "/" + b.Version
}
