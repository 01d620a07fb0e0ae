package main

import (
	"flag"
	"os"
	"time"

	"github.com/beholdlabs/listings/internal/platform/config"
	"github.com/beholdlabs/listings/internal/tools/accesstoken"
)

func main() {
	cfg, err := accesstoken.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := accesstoken.Run(cfg, os.Stdout, time.Now()); err != nil {
		config.Exitf("mint token: %v", err)
	}
}
