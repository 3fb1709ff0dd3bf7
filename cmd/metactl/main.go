package main

import (
	"context"
	"flag"
	"os"

	"github.com/recallkit/recallkit/internal/platform/config"
	"github.com/recallkit/recallkit/internal/tools/metactl"
)

func main() {
	cfg, err := metactl.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := metactl.Run(context.Background(), cfg, os.Stdout); err != nil {
		config.Exitf("%s: %v", cfg.Op, err)
	}
}
