package main

import (
	"fmt"
	"os"

	"github.com/coreforge/registry/cmd"
	"github.com/coreforge/registry/pkg/version"
)

var (
	buildVersion string
	buildCommit  string
	buildDate    string
)

func main() {
	version.Set(buildVersion, buildCommit, buildDate)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
