package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tphakala/agm/cmd"
	"github.com/tphakala/agm/internal/buildinfo"
)

// set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   string
	buildDate string
)

func main() {
	build := buildinfo.NewContext(version, buildDate)
	if err := cmd.RootCommand(build).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "agm: %v\n", err)
		os.Exit(1)
	}
}
