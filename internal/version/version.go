package version

// Version is overridden at build time via -ldflags "-X github.com/drksbr/facecam/internal/version.Version=...".
var Version = "dev"
