// Command coldpack packs files into compressed, integrity-checked archives
// and restores them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/coldpack/coldpack/internal/batch"
	"github.com/coldpack/coldpack/internal/config"
	"github.com/coldpack/coldpack/internal/dictionary"
	"github.com/coldpack/coldpack/internal/engine"
	"github.com/coldpack/coldpack/internal/metrics"
	"github.com/coldpack/coldpack/internal/packager"
	"github.com/coldpack/coldpack/internal/storage"
)

const usage = `usage: coldpack <command> [flags]

commands:
  pack        pack one file into an archive
  unpack      restore one archive
  inspect     print an archive's manifest without unpacking
  batch       pack or unpack a whole directory
  ship        pack one file and upload the archive to the configured store
  fetch       download an archive from the configured store and restore it
  train       train the shared compression dictionary from sample files

run "coldpack <command> -h" for command flags
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string) error {
	switch command {
	case "pack":
		return runPack(ctx, args)
	case "unpack":
		return runUnpack(ctx, args)
	case "inspect":
		return runInspect(args)
	case "batch":
		return runBatch(ctx, args)
	case "ship":
		return runShip(ctx, args)
	case "fetch":
		return runFetch(ctx, args)
	case "train":
		return runTrain(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// checkLevel rejects unknown compression level names before any work
// starts. Empty means the configured default.
func checkLevel(level string) error {
	if level == "" {
		return nil
	}
	_, err := engine.ParseLevel(level)
	return err
}

// setup loads configuration, wires logging and metrics, and builds the
// archiver shared by every command.
func setup(configPath string, verbose bool) (*config.Configuration, *packager.Archiver, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	collector := metrics.NewCollector(&metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Port:    cfg.Metrics.Port,
		Path:    cfg.Metrics.Path,
	})
	if collector != nil {
		collector.Serve()
	}

	dicts := dictionary.NewManager(cfg.Dictionary.Path, cfg.MaxSampleSizeBytes(), logger)
	if _, err := dicts.Load(); err != nil {
		return nil, nil, err
	}

	archiver := packager.New(cfg, dicts,
		packager.WithLogger(logger),
		packager.WithMetrics(collector),
	)
	return cfg, archiver, nil
}

func runPack(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	output := fs.String("o", "", "output archive path (default: input with .cpak suffix)")
	level := fs.String("level", "", "compression level: low, medium, high, ultra")
	mode := fs.String("mode", "lossless", "fidelity mode: lossless, visual, lossy")
	quality := fs.Int("quality", 0, "image quality for fidelity-reduced modes")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("pack needs exactly one input file")
	}
	input := fs.Arg(0)
	if err := checkLevel(*level); err != nil {
		return err
	}

	_, archiver, err := setup(*configPath, *verbose)
	if err != nil {
		return err
	}

	outputPath := *output
	if outputPath == "" {
		outputPath = strings.TrimSuffix(input, filepath.Ext(input)) + ".cpak"
	}

	result, err := archiver.PackWithRetry(ctx, packager.Job{
		InputPath:    input,
		OutputPath:   outputPath,
		Level:        engine.Level(*level),
		Mode:         packager.Mode(*mode),
		ImageQuality: *quality,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s -> %s (%d -> %d bytes, %.1f%% saved)\n",
		result.InputPath, result.OutputPath,
		result.OriginalSize, result.CompressedSize, result.SpaceSavedPercent())
	return nil
}

func runUnpack(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("unpack", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	outDir := fs.String("d", ".", "output directory")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("unpack needs exactly one archive")
	}

	_, archiver, err := setup(*configPath, *verbose)
	if err != nil {
		return err
	}

	result, err := archiver.UnpackWithRetry(ctx, fs.Arg(0), *outDir, nil)
	if err != nil {
		return err
	}
	verified := "verified"
	if !result.Verified {
		verified = "unverified"
	}
	fmt.Printf("%s -> %s (%d bytes, %s)\n",
		result.ArchivePath, result.OutputPath, result.RestoredSize, verified)
	return nil
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("inspect needs exactly one archive")
	}

	_, archiver, err := setup(*configPath, false)
	if err != nil {
		return err
	}

	header, err := archiver.Inspect(fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Println(header.Describe())
	m := header.Manifest
	fmt.Printf("  format: %s  checksum: %s  dictionary: %v\n", m.Format, m.Checksum, m.HasDict)
	if m.Mode != "" {
		fmt.Printf("  mode: %s  quality: %d  precompressed: %d bytes\n",
			m.Mode, m.ImageQuality, m.PrecompressedSize)
	}
	return nil
}

func runBatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	unpack := fs.Bool("unpack", false, "restore archives instead of packing")
	recursive := fs.Bool("r", false, "descend into subdirectories")
	level := fs.String("level", "", "compression level: low, medium, high, ultra")
	mode := fs.String("mode", "lossless", "fidelity mode: lossless, visual, lossy")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Parse(args)

	if fs.NArg() != 2 {
		return fmt.Errorf("batch needs an input directory and an output directory")
	}
	inputDir, outputDir := fs.Arg(0), fs.Arg(1)
	if err := checkLevel(*level); err != nil {
		return err
	}

	cfg, archiver, err := setup(*configPath, *verbose)
	if err != nil {
		return err
	}

	o := batch.New(archiver, cfg.Workers(), slog.Default())
	opts := batch.Options{
		Level:     engine.Level(*level),
		Mode:      packager.Mode(*mode),
		Recursive: *recursive,
	}

	var summary interface {
		SpaceSavedPercent() float64
		Err() error
	}
	if *unpack {
		s, err := o.UnpackDirectory(ctx, inputDir, outputDir, opts)
		if err != nil {
			return err
		}
		fmt.Printf("restored %d/%d archives\n", s.Succeeded, s.Total)
		summary = s
	} else {
		s, err := o.PackDirectory(ctx, inputDir, outputDir, opts)
		if err != nil {
			return err
		}
		fmt.Printf("packed %d/%d files, %.1f%% saved\n",
			s.Succeeded, s.Total, s.SpaceSavedPercent())
		summary = s
	}
	return summary.Err()
}

func runShip(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ship", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	key := fs.String("key", "", "store key (default: archive filename)")
	level := fs.String("level", "", "compression level: low, medium, high, ultra")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("ship needs exactly one input file")
	}
	input := fs.Arg(0)
	if err := checkLevel(*level); err != nil {
		return err
	}

	cfg, archiver, err := setup(*configPath, *verbose)
	if err != nil {
		return err
	}
	store, err := storage.New(cfg)
	if err != nil {
		return err
	}

	outputPath := strings.TrimSuffix(input, filepath.Ext(input)) + ".cpak"
	storeKey := *key
	if storeKey == "" {
		storeKey = filepath.Base(outputPath)
	}

	result, err := archiver.PackTo(ctx, packager.Job{
		InputPath:  input,
		OutputPath: outputPath,
		Level:      engine.Level(*level),
	}, store, storeKey)
	if err != nil {
		return err
	}
	fmt.Printf("%s -> %s (%d bytes uploaded)\n", input, storeKey, result.CompressedSize)
	return nil
}

func runFetch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	outDir := fs.String("d", ".", "output directory")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("fetch needs exactly one store key")
	}

	cfg, archiver, err := setup(*configPath, *verbose)
	if err != nil {
		return err
	}
	store, err := storage.New(cfg)
	if err != nil {
		return err
	}

	result, err := archiver.UnpackFrom(ctx, store, fs.Arg(0), *outDir, nil)
	if err != nil {
		return err
	}
	fmt.Printf("%s -> %s (%d bytes)\n", result.ArchivePath, result.OutputPath, result.RestoredSize)
	return nil
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("train needs at least one sample file")
	}

	cfg, _, err := setup(*configPath, *verbose)
	if err != nil {
		return err
	}
	if cfg.Dictionary.Path == "" {
		return fmt.Errorf("set dictionary.path in the config before training")
	}

	m := dictionary.NewManager(cfg.Dictionary.Path, cfg.MaxSampleSizeBytes(), slog.Default())
	data, err := m.Train(fs.Args(), cfg.Dictionary.TargetSizeKB*1024)
	if err != nil {
		return err
	}
	fmt.Printf("trained %d-byte dictionary at %s\n", len(data), cfg.Dictionary.Path)
	return nil
}
