// journalctl - Inspection tool for a native transaction journal file.
//
// Usage:
//
//	journalctl [flags] <path>
//
// Flags:
//
//	-size int            Size to create the journal with, or grow it to if smaller; overrides the config's initial_size (default: the config's, 16777216)
//	-config string       Path to a journalcfg JSON file
//	-include-invalid     Also report records whose CRC32 check failed
//	-debug               Log each corrupt record at debug level as it's found (corrupt records are only reported with -include-invalid)
//	-version             Print the version and exit
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/flashdb/ntj/internal/journal"
	"github.com/flashdb/ntj/internal/journalcfg"
	"github.com/flashdb/ntj/internal/version"
)

func main() {
	size := flag.Int64("size", 0, "Size to create the journal with, or grow it to if smaller (overrides the config's initial_size)")
	configPath := flag.String("config", "", "Path to a journalcfg JSON file")
	includeInvalid := flag.Bool("include-invalid", false, "Also report records whose CRC32 check failed")
	debug := flag.Bool("debug", false, "Log each corrupt record at debug level as it's found (needs -include-invalid)")
	printVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *printVersion {
		fmt.Printf("journalctl %s (built %s)\n", version.Version, version.BuildTime)
		return
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(log.Writer(), &slog.HandlerOptions{Level: level}))

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: journalctl [flags] <path>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	cfg := journalcfg.DefaultConfig()
	if *configPath != "" {
		loaded, err := journalcfg.Load(*configPath)
		if err != nil {
			logger.Error("load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *size > 0 {
		cfg.InitialSize = *size
	}

	f, err := journal.Open(path, cfg.InitialSize, cfg.JournalOptions()...)
	if err != nil {
		logger.Error("open journal", "path", path, "error", err)
		os.Exit(1)
	}
	defer f.Close()

	report(f, *includeInvalid, logger)
}

func report(f *journal.File, includeInvalid bool, logger *slog.Logger) {
	fmt.Println("====== Journal Report ======")

	var total, valid, corrupt int
	it := f.ReadAll(includeInvalid)
	for {
		rec, ok := it.Next()
		if !ok {
			break
		}
		total++
		if rec.Valid() {
			valid++
		} else {
			corrupt++
			logger.Debug("corrupt record skipped", "generation", rec.Generation(), "index", total)
		}
		rec.Dispose()
	}

	fmt.Printf("Records scanned:  %d\n", total)
	fmt.Printf("  valid:          %d\n", valid)
	fmt.Printf("  corrupt:        %d\n", corrupt)
	fmt.Printf("Remaining space:  %d bytes\n", f.RemainingCapacity())
}
