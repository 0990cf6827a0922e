// Semantic index maintenance utility for a branching SNOMED CT content store
//
// Copyright 2018 Mark Wardle / Eldrix Ltd
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.
//
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/wardle/go-semindex/config"
	"github.com/wardle/go-semindex/semantic"
	"github.com/wardle/go-semindex/store"
)

// automatically populated by linker flags
var version string
var build string

// commands and flags
var doVersion = flag.Bool("version", false, "Show version information")
var database = flag.String("db", "", "filename of database to open or create (e.g. ./semidx.db)")
var configFile = flag.String("config", "", "filename of optional configuration file")
var rebuild = flag.String("rebuild", "", "rebuild the semantic index for the branch specified (e.g. MAIN)")
var stats = flag.Bool("status", false, "get statistics")
var verbose = flag.Bool("v", false, "verbose")

func main() {
	flag.Parse()
	if *doVersion {
		fmt.Printf("%s v%s (%s)\n", os.Args[0], version, build)
		os.Exit(1)
	}
	if *database == "" {
		fmt.Fprint(os.Stderr, "error: missing mandatory database file\n")
		flag.PrintDefaults()
		os.Exit(1)
	}
	var zl *zap.Logger
	var err error
	if *verbose {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: couldn't initialise logging: %v\n", err)
		os.Exit(1)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatalf("couldn't load configuration: %v", err)
	}
	readOnly := *rebuild == ""
	svc, err := store.NewService(*database, readOnly, logger)
	if err != nil {
		logger.Fatalf("couldn't open database: %v", err)
	}
	defer svc.Close()
	svc.SetBatchSaveSize(cfg.BatchSaveSize)
	updater := semantic.New(svc, semantic.NewOWLConverter(), cfg, logger)
	svc.RegisterCommitListener(updater)

	if *rebuild != "" {
		if err := updater.Rebuild(*rebuild); err != nil {
			logger.Fatalf("rebuild of %s failed: %v", *rebuild, err)
		}
	}

	if *stats {
		s, err := svc.Statistics()
		if err != nil {
			logger.Fatalf("couldn't get statistics: %v", err)
		}
		fmt.Printf("%v", s)
	}
}
