package version

// Version is the semantic version of this build. Overridable at link time:
//
//	go build -ldflags "-X github.com/paleoquota/paleoquota/version.Version=..."
var Version = "0.1.0"
