package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/raiseattention/raiseattention/internal/cache"
	"github.com/raiseattention/raiseattention/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or maintain the on-disk analysis cache",
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status [root]",
	Short: "Print cache entry counts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCacheArg(args)
		if err != nil {
			return internalErrorExit(err)
		}
		defer c.Close()

		stats, err := c.Status()
		if err != nil {
			return internalErrorExit(err)
		}
		fmt.Printf("file entries: %d\nsignature entries: %d\n", stats.FileEntries, stats.SignatureEntries)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [root]",
	Short: "Remove all cache entries",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCacheArg(args)
		if err != nil {
			return internalErrorExit(err)
		}
		defer c.Close()

		if err := c.Clear(); err != nil {
			return internalErrorExit(err)
		}
		fmt.Println("cache cleared")
		return nil
	},
}

var cacheFullSweep bool

var cachePruneCmd = &cobra.Command{
	Use:   "prune [root]",
	Short: "Remove cache entries whose TTL has elapsed",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCacheArg(args)
		if err != nil {
			return internalErrorExit(err)
		}
		defer c.Close()

		n, err := c.Prune()
		if err != nil {
			return internalErrorExit(err)
		}
		fmt.Printf("%d entries removed\n", n)
		return nil
	},
}

func init() {
	cachePruneCmd.Flags().BoolVar(&cacheFullSweep, "full", false, "unused, reserved for a future exhaustive sweep")
	cacheCmd.AddCommand(cacheStatusCmd, cacheClearCmd, cachePruneCmd)
}

// openCacheArg opens the cache directory for root (defaulting to the
// current directory), using the project's layered configuration so that
// maintenance commands see the same cache that check/lsp would use.
func openCacheArg(args []string) (*cache.Cache, error) {
	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(abs)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(abs, ".raiseattention_cache")
	if _, err := os.Stat(dir); err != nil {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return nil, mkErr
		}
	}
	return cache.Open(dir, cache.Config{
		Enabled:        true,
		MaxFileEntries: cfg.Cache.MaxFileEntries,
		TTLHours:       cfg.Cache.TTLHours,
	}, logger)
}
