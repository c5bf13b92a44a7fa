package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/urfave/cli/v2"

	"github.com/dargueta/fes"
	"github.com/dargueta/fes/coder"
	"github.com/dargueta/fes/container"
	"github.com/dargueta/fes/profiles"
)

func main() {
	app := cli.App{
		Name:  "fes",
		Usage: "Structure-aware compression preprocessor for x86_64 ELF binaries",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log pipeline details to stderr",
			},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			{
				Name:      "compress",
				Usage:     "Pack an ELF binary into an archive",
				Action:    compressFile,
				ArgsUsage: "INPUT_FILE  OUTPUT_FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "profile",
						Usage: "named settings preset (see the profiles command)",
					},
					&cli.StringFlag{
						Name:  "coder",
						Usage: "entropy backend, lzma or zstd",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "streams compressed concurrently (default: one per CPU)",
					},
					&cli.BoolFlag{
						Name:  "no-verify",
						Usage: "skip the round-trip check before writing the archive",
					},
					&cli.BoolFlag{
						Name:  "strict-tables",
						Usage: "fail on struct tables that cannot be column-coded",
					},
					&cli.IntFlag{
						Name:  "min-run",
						Usage: "minimum jump-table run length the scan accepts",
					},
				},
			},
			{
				Name:      "decompress",
				Usage:     "Reconstruct the original binary from an archive",
				Action:    decompressFile,
				ArgsUsage: "ARCHIVE_FILE  OUTPUT_FILE",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "workers",
						Usage: "streams decompressed concurrently (default: one per CPU)",
					},
				},
			},
			{
				Name:      "verify",
				Usage:     "Check that an archive reproduces a binary exactly",
				Action:    verifyArchive,
				ArgsUsage: "ORIGINAL_FILE  ARCHIVE_FILE",
			},
			{
				Name:      "compare",
				Usage:     "Report size and timing for every entropy backend",
				Action:    compareCoders,
				ArgsUsage: "INPUT_FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "csv",
						Usage: "write the report as CSV to this file",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "streams compressed concurrently (default: one per CPU)",
					},
					&cli.IntFlag{
						Name:  "min-run",
						Usage: "minimum jump-table run length the scan accepts",
					},
				},
			},
			{
				Name:   "profiles",
				Usage:  "List the predefined settings presets",
				Action: listProfiles,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func setupLogging(ctx *cli.Context) error {
	level := slog.LevelInfo
	if ctx.Bool("verbose") {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return nil
}

// pipelineOptions assembles fes.Options from a profile (if named) with
// explicit flags layered on top.
func pipelineOptions(ctx *cli.Context) (fes.Options, error) {
	opts := fes.DefaultOptions()

	if slug := ctx.String("profile"); slug != "" {
		profile, err := profiles.GetPredefinedProfile(slug)
		if err != nil {
			return fes.Options{}, err
		}
		opts, err = profile.Options()
		if err != nil {
			return fes.Options{}, err
		}
	}

	if ctx.IsSet("coder") {
		kind, err := coder.ParseKind(ctx.String("coder"))
		if err != nil {
			return fes.Options{}, err
		}
		opts.Coder = kind
	}
	if workers := ctx.Int("workers"); workers > 0 {
		opts.Workers = workers
	}
	if ctx.Bool("no-verify") {
		opts.SkipVerify = true
	}
	if ctx.Bool("strict-tables") {
		opts.StrictTables = true
	}
	if run := ctx.Int("min-run"); run > 0 {
		opts.JumpTable.MinRun = run
	}
	return opts, nil
}

func compressFile(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.Exit("usage: fes compress INPUT_FILE OUTPUT_FILE", 1)
	}
	opts, err := pipelineOptions(ctx)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	input, err := os.ReadFile(ctx.Args().Get(0))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	start := time.Now()
	archive, err := fes.Compress(input, opts)
	if err != nil {
		return cli.Exit(err.Error(), fes.ExitCode(err))
	}
	slog.Debug("compressed",
		"coder", opts.Coder.String(),
		"input_bytes", len(input),
		"output_bytes", len(archive),
		"ratio", ratio(len(archive), len(input)),
		"elapsed", time.Since(start))

	if err := os.WriteFile(ctx.Args().Get(1), archive, 0o644); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

func decompressFile(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.Exit("usage: fes decompress ARCHIVE_FILE OUTPUT_FILE", 1)
	}
	opts, err := pipelineOptions(ctx)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	archive, err := os.ReadFile(ctx.Args().Get(0))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	start := time.Now()
	restored, err := fes.Decompress(archive, opts)
	if err != nil {
		return cli.Exit(err.Error(), fes.ExitCode(err))
	}
	slog.Debug("decompressed",
		"archive_bytes", len(archive),
		"output_bytes", len(restored),
		"elapsed", time.Since(start))

	if err := os.WriteFile(ctx.Args().Get(1), restored, 0o755); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

func verifyArchive(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.Exit("usage: fes verify ORIGINAL_FILE ARCHIVE_FILE", 1)
	}

	original, err := os.ReadFile(ctx.Args().Get(0))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	archive, err := os.ReadFile(ctx.Args().Get(1))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if err := fes.Verify(original, archive, fes.DefaultOptions()); err != nil {
		return cli.Exit(err.Error(), fes.ExitCode(err))
	}
	fmt.Printf("%s reproduces %s exactly.\n", ctx.Args().Get(1), ctx.Args().Get(0))
	return nil
}

type compareRow struct {
	Coder         string  `csv:"coder"`
	InputBytes    int     `csv:"input_bytes"`
	OutputBytes   int     `csv:"output_bytes"`
	Ratio         float64 `csv:"ratio"`
	BaselineBytes int     `csv:"baseline_bytes"`
	BaselineRatio float64 `csv:"baseline_ratio"`
	CompressMS    int64   `csv:"compress_ms"`
	DecompressMS  int64   `csv:"decompress_ms"`
}

func compareCoders(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.Exit("usage: fes compare INPUT_FILE", 1)
	}
	opts, err := pipelineOptions(ctx)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	// Decompression is timed explicitly below, so the built-in check
	// would only double-count it.
	opts.SkipVerify = true

	input, err := os.ReadFile(ctx.Args().Get(0))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	var rows []*compareRow
	for _, kind := range []coder.Kind{coder.LZMA, coder.Zstd} {
		opts.Coder = kind

		start := time.Now()
		archive, err := fes.Compress(input, opts)
		if err != nil {
			return cli.Exit(err.Error(), fes.ExitCode(err))
		}
		compressMS := time.Since(start).Milliseconds()

		start = time.Now()
		restored, err := fes.Decompress(archive, opts)
		if err != nil {
			return cli.Exit(err.Error(), fes.ExitCode(err))
		}
		decompressMS := time.Since(start).Milliseconds()

		if msg := firstDifference(input, restored); msg != "" {
			return cli.Exit(
				fmt.Sprintf("%s round trip failed: %s", kind, msg),
				fes.ExitCode(fes.ErrRoundTrip))
		}

		baselineBytes, err := baselineSize(input, kind)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}

		rows = append(rows, &compareRow{
			Coder:         kind.String(),
			InputBytes:    len(input),
			OutputBytes:   len(archive),
			Ratio:         ratio(len(archive), len(input)),
			BaselineBytes: baselineBytes,
			BaselineRatio: ratio(baselineBytes, len(input)),
			CompressMS:    compressMS,
			DecompressMS:  decompressMS,
		})
	}

	if path := ctx.String("csv"); path != "" {
		report, err := os.Create(path)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		defer report.Close()
		if err := gocsv.Marshal(&rows, report); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		return nil
	}

	fmt.Printf("%-6s  %12s  %12s  %7s  %12s  %7s  %9s  %11s\n",
		"coder", "input", "output", "ratio", "baseline", "ratio", "compress", "decompress")
	for _, row := range rows {
		fmt.Printf("%-6s  %12d  %12d  %6.1f%%  %12d  %6.1f%%  %7dms  %9dms\n",
			row.Coder, row.InputBytes, row.OutputBytes, row.Ratio*100,
			row.BaselineBytes, row.BaselineRatio*100,
			row.CompressMS, row.DecompressMS)
	}
	return nil
}

// baselineSize compresses the whole file as one untyped stream, the number
// the structural pipeline has to beat.
func baselineSize(input []byte, kind coder.Kind) (int, error) {
	backend, err := coder.New(kind)
	if err != nil {
		return 0, err
	}
	packed, err := backend.Compress(input, container.StreamOther.CoderConfig())
	if err != nil {
		return 0, err
	}
	return len(packed), nil
}

func listProfiles(ctx *cli.Context) error {
	for _, profile := range profiles.All() {
		fmt.Printf("%-12s %-24s %s\n", profile.Slug, profile.Name, profile.Notes)
	}
	return nil
}

func ratio(out, in int) float64 {
	if in == 0 {
		return 0
	}
	return float64(out) / float64(in)
}

func firstDifference(want, got []byte) string {
	if len(want) != len(got) {
		return fmt.Sprintf("got %d bytes, want %d", len(got), len(want))
	}
	for i := range want {
		if want[i] != got[i] {
			return fmt.Sprintf("first divergence at offset %#x", i)
		}
	}
	return ""
}
