package main

import (
	"github.com/rockslide/rockslide/registry"
	_ "github.com/rockslide/rockslide/registry/auth/fixed"
	_ "github.com/rockslide/rockslide/registry/auth/htpasswd"
	_ "github.com/rockslide/rockslide/registry/auth/masterkey"
	_ "github.com/rockslide/rockslide/registry/auth/static"
	_ "github.com/rockslide/rockslide/registry/storage/cache/memory"
	_ "github.com/rockslide/rockslide/registry/storage/driver/filesystem"
	_ "github.com/rockslide/rockslide/registry/storage/driver/inmemory"
)

func main() {
	// nolint:errcheck
	registry.RootCmd.Execute()
}
