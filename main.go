package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cropscan/cropscan/cmd"
	"github.com/cropscan/cropscan/internal/buildinfo"
	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/logger"
)

// Set with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = "dev"
	buildDate = ""
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		return 1
	}

	info := buildinfo.NewContext(version, buildDate)
	settings.Version = info.Version()
	settings.BuildDate = info.BuildDate()

	rootCmd := cmd.RootCommand(settings)
	err = rootCmd.ExecuteContext(context.Background())
	_ = logger.Global().Flush()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
