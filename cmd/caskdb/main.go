// Command caskdb is a thin CLI over the caskdb package: a host-facing
// adapter for scripting and manual inspection, not a server. It opens the
// database for the duration of a single command and closes it when the
// command succeeds; a failed command exits without calling Close.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/caskdb/caskdb"
	"github.com/caskdb/caskdb/internal/config"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  caskdb get <key>\n")
	fmt.Fprintf(os.Stderr, "  caskdb set <key> <value>\n")
	fmt.Fprintf(os.Stderr, "  caskdb remove <key>\n")
	fmt.Fprintf(os.Stderr, "  caskdb merge\n")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load("config.yml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	db, err := caskdb.Open(cfg.DataDir,
		caskdb.WithMaxActiveFileSize(cfg.MaxActiveFileSize),
		caskdb.WithSyncOnWrite(cfg.SyncOnWrite),
		caskdb.WithSyncOnRotate(cfg.SyncOnRotate),
		caskdb.WithVerifyChecksums(cfg.VerifyChecksums),
		caskdb.WithMergeEnabled(cfg.MergeEnabled),
		caskdb.WithMergeThreshold(cfg.MergeThreshold),
		caskdb.WithLogger(sugar),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	action := os.Args[1]
	switch action {
	case "get":
		if len(os.Args) != 3 {
			usage()
		}
		runGet(db, os.Args[2])

	case "set":
		if len(os.Args) != 4 {
			usage()
		}
		runSet(db, os.Args[2], os.Args[3])

	case "remove":
		if len(os.Args) != 3 {
			usage()
		}
		runRemove(db, os.Args[2])

	case "merge":
		if len(os.Args) != 2 {
			usage()
		}
		runMerge(db)

	default:
		fmt.Fprintf(os.Stderr, "unknown action %q\n", action)
		usage()
	}
}

func runGet(db *caskdb.DB, key string) {
	val, err := db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, caskdb.ErrKeyNotFound) {
			fmt.Fprintf(os.Stderr, "key not found: %s\n", key)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "failed to get key: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(val))
}

func runSet(db *caskdb.DB, key, value string) {
	if err := db.Set([]byte(key), []byte(value)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set key: %v\n", err)
		os.Exit(1)
	}
}

func runRemove(db *caskdb.DB, key string) {
	if err := db.Remove([]byte(key)); err != nil {
		if errors.Is(err, caskdb.ErrKeyNotFound) {
			fmt.Fprintf(os.Stderr, "key not found: %s\n", key)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "failed to remove key: %v\n", err)
		os.Exit(1)
	}
}

func runMerge(db *caskdb.DB) {
	if err := db.Merge(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "merge failed: %v\n", err)
		os.Exit(1)
	}
}
