package version

// mainpkg is the canonical import path of the project.
var mainpkg = "github.com/rockslide/rockslide"

// version is replaced at link time with the release tag, for example
//
//	go build -ldflags "-X github.com/rockslide/rockslide/version.version=v0.2.0"
//
// The default marks a build from an untagged tree.
var version = "v0.1.0+unknown"

// revision is the VCS revision set at link time, if any.
var revision = ""
