package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dnogares/web-sub001/internal/logger"
	"github.com/dnogares/web-sub001/internal/normalizer"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
)

func main() {
	_ = godotenv.Load()

	root := flag.String("root", envOr("DATA_ROOT", "./data"), "root data directory to normalize")
	dryRun := flag.Bool("dry-run", false, "list convertible datasets without writing")
	env := flag.String("env", envOr("ENV", "production"), "logger mode (development for console output)")
	flag.Parse()

	log := logger.New(*env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := normalizer.New(log, normalizer.Options{DryRun: *dryRun}).Normalize(ctx, *root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "normalize failed: %v\n", err)
		os.Exit(1)
	}

	if *dryRun {
		for _, f := range res.Files {
			fmt.Println(f)
		}
	}
	fmt.Println(res.Converted)

	if res.Failed > 0 {
		os.Exit(2)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
