package mcpecho

// Version is the build version, overridden with -ldflags at release time.
var Version = "dev"
