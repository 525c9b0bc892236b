// Command analyzer runs the core analysis pipeline against one build's
// archives from the command line and prints the result as JSON, with no
// database, queue, or HTTP surface involved — the same entry point a CI
// job would shell out to.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/unity-buildscan/internal/analysis"
	"github.com/apk-analysis/unity-buildscan/internal/config"
)

func main() {
	var (
		configPath = flag.String("config", "", "optional config file for scan tunables (min_printable_run, max_component_ptrs, download_root)")
		title      = flag.String("title", "", "build title; defaults to the first archive's filename")
		logLevel   = flag.String("log-level", "info", "debug, info, warn, error")
	)
	flag.Parse()

	archivePaths := flag.Args()
	if len(archivePaths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: analyzer [flags] <archive>...")
		os.Exit(2)
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	opts := analysis.Options{}
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			logger.Fatalf("failed to load config: %v", err)
		}
		opts.DownloadRoot = cfg.Scan.DownloadRoot
		opts.MinPrintableRun = cfg.Scan.MinPrintableRun
		opts.MaxComponentPtrs = cfg.Scan.MaxComponentPtrs
	}

	buildTitle := *title
	if buildTitle == "" {
		buildTitle = filepath.Base(archivePaths[0])
	}

	result, err := analysis.Run(logger, buildTitle, archivePaths, opts)
	if err != nil {
		logger.Fatalf("analysis failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logger.Fatalf("failed to encode result: %v", err)
	}
}
