// Command steam-cache inspects and invalidates the bridge cache out of band.
//
//	steam-cache [-backend redis|bolt|memory] <command> [args]
//
// Commands:
//
//	key <raw>            print the normalized form of a raw key
//	get <key>            print a cached value
//	delete <key>...      delete entries
//	flush                delete every registered entry
//	invalidate <steamid> delete every entry of a player
//	cooldown             print the throttling state
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Sternrassler/steam-bridge/internal/app"
	"github.com/Sternrassler/steam-bridge/internal/config"
	"github.com/Sternrassler/steam-bridge/pkg/cache"
	"github.com/Sternrassler/steam-bridge/pkg/logging"
)

const commandTimeout = 2 * time.Minute

var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Getenv, os.Stdout, os.Stderr))
}

func run(args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("steam-cache", flag.ContinueOnError)
	fs.SetOutput(stderr)
	backend := fs.String("backend", "", "cache backend (overrides CACHE_BACKEND)")
	redisURL := fs.String("redis", "", "redis URL (overrides REDIS_URL)")
	boltPath := fs.String("bolt", "", "bolt file (overrides BOLT_PATH)")
	verbose := fs.Bool("v", false, "log at debug level")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	level := logging.LevelWarn
	if *verbose {
		level = logging.LevelDebug
	}
	logging.Setup(logging.Config{Level: level, Output: stderr, Pretty: true})

	cfg, err := config.LoadFrom(getenv)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if *backend != "" {
		cfg.CacheBackend = *backend
	}
	if *redisURL != "" {
		cfg.RedisURL = *redisURL
	}
	if *boltPath != "" {
		cfg.BoltPath = *boltPath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, "missing command: key, get, delete, flush, invalidate or cooldown")
		return 2
	}

	// key needs no backend
	if rest[0] == "key" {
		if len(rest) != 2 {
			fmt.Fprintln(stderr, "usage: steam-cache key <raw>")
			return 2
		}
		fmt.Fprintln(stdout, cache.Normalize(rest[1]))
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer a.Close()

	if err := execute(ctx, a, rest[0], rest[1:], stdout); err != nil {
		fmt.Fprintln(stderr, err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

func execute(ctx context.Context, a *app.App, cmd string, args []string, stdout io.Writer) error {
	switch cmd {
	case "get":
		if len(args) != 1 {
			return fmt.Errorf("%w: steam-cache get <key>", errUsage)
		}
		value, err := a.Store.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get %s: %w", args[0], err)
		}
		fmt.Fprintln(stdout, string(value))

	case "delete":
		if len(args) == 0 {
			return fmt.Errorf("%w: steam-cache delete <key>...", errUsage)
		}
		var errs []error
		for _, key := range args {
			if err := a.Store.Delete(ctx, key); err != nil {
				errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
				continue
			}
			fmt.Fprintf(stdout, "deleted %s\n", cache.Normalize(key))
		}
		return errors.Join(errs...)

	case "flush":
		if err := a.Store.FlushAll(ctx); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		fmt.Fprintln(stdout, "flushed")

	case "invalidate":
		if len(args) != 1 {
			return fmt.Errorf("%w: steam-cache invalidate <steamid>", errUsage)
		}
		if err := a.Steam.InvalidatePlayer(ctx, args[0]); err != nil {
			return fmt.Errorf("invalidate %s: %w", args[0], err)
		}
		fmt.Fprintf(stdout, "invalidated %s\n", args[0])

	case "cooldown":
		state, err := a.Tracker.GetState(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(state)

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	return nil
}
