// mdftool is the command-line front end of the measurement engine:
// inspect, cut, resample, filter, convert, merge and export MDF files.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/INLOpen/nexusmdf/config"
	"github.com/INLOpen/nexusmdf/core"
	"github.com/INLOpen/nexusmdf/mdf"
)

func main() {
	root := &cli.Command{
		Name:  "mdftool",
		Usage: "inspect and transform ASAM MDF measurement files",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "engine configuration file (YAML)"},
			&cli.BoolFlag{Name: "verbose", Usage: "debug logging"},
		},
		Commands: []*cli.Command{
			infoCommand(),
			cutCommand(),
			resampleCommand(),
			filterCommand(),
			convertCommand(),
			concatCommand(),
			stackCommand(),
			exportCommand(),
			scrambleCommand(),
			cleanupCommand(),
		},
	}
	if err := root.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// engineOptions builds the engine options from the global flags.
func engineOptions(cmd *cli.Command) (mdf.Options, error) {
	cfg, err := config.LoadConfig(cmd.String("config"))
	if err != nil {
		return mdf.Options{}, err
	}
	if cmd.Bool("verbose") {
		cfg.Logging.Level = "debug"
	}
	logger, err := createLogger(cfg.Logging)
	if err != nil {
		return mdf.Options{}, err
	}
	return mdf.Options{Config: cfg, Logger: logger}, nil
}

func createLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	case "file":
		if cfg.File == "" {
			return nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = f
	case "none":
		output = io.Discard
	default:
		return nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}
	return slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})), nil
}

func openArg(cmd *cli.Command, i int) (*mdf.MDF, error) {
	path := cmd.Args().Get(i)
	if path == "" {
		return nil, fmt.Errorf("missing input file argument")
	}
	opts, err := engineOptions(cmd)
	if err != nil {
		return nil, err
	}
	return mdf.Open(path, opts)
}

func outputArg(cmd *cli.Command, i int) (string, error) {
	path := cmd.Args().Get(i)
	if path == "" {
		return "", fmt.Errorf("missing output file argument")
	}
	return path, nil
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "print the structure of a measurement file",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "machine-readable output"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			m, err := openArg(cmd, 0)
			if err != nil {
				return err
			}
			defer m.Close()

			type channelInfo struct {
				Name string `json:"name"`
				Unit string `json:"unit,omitempty"`
				Type string `json:"type"`
			}
			type groupInfo struct {
				Index    int           `json:"index"`
				AcqName  string        `json:"acq_name,omitempty"`
				Cycles   uint64        `json:"cycles"`
				Channels []channelInfo `json:"channels"`
			}
			type fileInfo struct {
				File    string      `json:"file"`
				Version string      `json:"version"`
				Comment string      `json:"comment,omitempty"`
				Program string      `json:"program,omitempty"`
				Groups  []groupInfo `json:"groups"`
			}

			info := fileInfo{
				File:    m.Name(),
				Version: m.Version().String(),
				Comment: m.Header().Comment,
				Program: m.Header().Program,
			}
			m.IterGroups(func(gi int, g *mdf.Group) bool {
				grp := groupInfo{Index: gi, AcqName: g.ChannelGroup.AcqName, Cycles: g.ChannelGroup.Cycles}
				for _, ch := range g.ChannelGroup.Channels {
					grp.Channels = append(grp.Channels, channelInfo{
						Name: ch.Name, Unit: ch.Unit, Type: ch.DataType.String(),
					})
				}
				info.Groups = append(info.Groups, grp)
				return true
			})

			if cmd.Bool("json") {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Printf("%s (version %s)\n", info.File, info.Version)
			if info.Comment != "" {
				fmt.Printf("comment: %s\n", info.Comment)
			}
			for _, g := range info.Groups {
				fmt.Printf("group %d %q: %d cycles\n", g.Index, g.AcqName, g.Cycles)
				for _, ch := range g.Channels {
					unit := ""
					if ch.Unit != "" {
						unit = " [" + ch.Unit + "]"
					}
					fmt.Printf("  %s%s (%s)\n", ch.Name, unit, ch.Type)
				}
			}
			return nil
		},
	}
}

func cutCommand() *cli.Command {
	return &cli.Command{
		Name:      "cut",
		Usage:     "keep only samples inside a time window",
		ArgsUsage: "<in> <out>",
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: "start", Usage: "window start in seconds"},
			&cli.Float64Flag{Name: "stop", Usage: "window stop in seconds"},
			&cli.BoolFlag{Name: "include-ends", Usage: "synthesize boundary samples"},
			&cli.BoolFlag{Name: "time-from-zero", Usage: "shift output timestamps to start at zero"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			m, err := openArg(cmd, 0)
			if err != nil {
				return err
			}
			defer m.Close()
			outPath, err := outputArg(cmd, 1)
			if err != nil {
				return err
			}

			opts := mdf.CutOptions{
				IncludeEnds:  cmd.Bool("include-ends"),
				TimeFromZero: cmd.Bool("time-from-zero"),
			}
			if cmd.IsSet("start") {
				v := cmd.Float64("start")
				opts.Start = &v
			}
			if cmd.IsSet("stop") {
				v := cmd.Float64("stop")
				opts.Stop = &v
			}
			out, err := m.Cut(ctx, opts)
			if err != nil {
				return err
			}
			defer out.Close()
			return out.Save(ctx, outPath)
		},
	}
}

func resampleCommand() *cli.Command {
	return &cli.Command{
		Name:      "resample",
		Usage:     "re-interpolate every group onto a raster",
		ArgsUsage: "<in> <out>",
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: "step", Usage: "raster step in seconds"},
			&cli.StringFlag{Name: "channel", Usage: "reuse the raster of this channel"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			m, err := openArg(cmd, 0)
			if err != nil {
				return err
			}
			defer m.Close()
			outPath, err := outputArg(cmd, 1)
			if err != nil {
				return err
			}
			out, err := m.Resample(ctx, mdf.Raster{
				Step:    cmd.Float64("step"),
				Channel: cmd.String("channel"),
			})
			if err != nil {
				return err
			}
			defer out.Close()
			return out.Save(ctx, outPath)
		},
	}
}

func filterCommand() *cli.Command {
	return &cli.Command{
		Name:      "filter",
		Usage:     "keep only the named channels",
		ArgsUsage: "<in> <out>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "channel", Usage: "channel to keep (repeatable)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			names := cmd.StringSlice("channel")
			if len(names) == 0 {
				return fmt.Errorf("no channels selected")
			}
			m, err := openArg(cmd, 0)
			if err != nil {
				return err
			}
			defer m.Close()
			outPath, err := outputArg(cmd, 1)
			if err != nil {
				return err
			}
			specs := make([]mdf.ChannelSpec, len(names))
			for i, n := range names {
				specs[i] = mdf.ByName(n)
			}
			out, err := m.Filter(ctx, specs)
			if err != nil {
				return err
			}
			defer out.Close()
			return out.Save(ctx, outPath)
		},
	}
}

func convertCommand() *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "re-express the measurement under another format version",
		ArgsUsage: "<in> <out>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "version", Value: "4.10", Usage: "target format version"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			target, err := core.ParseVersion(cmd.String("version"))
			if err != nil {
				return err
			}
			m, err := openArg(cmd, 0)
			if err != nil {
				return err
			}
			defer m.Close()
			outPath, err := outputArg(cmd, 1)
			if err != nil {
				return err
			}
			out, err := m.ConvertVersion(ctx, target)
			if err != nil {
				return err
			}
			defer out.Close()
			return out.Save(ctx, outPath)
		},
	}
}

func openAll(cmd *cli.Command, from int) ([]*mdf.MDF, func(), error) {
	var files []*mdf.MDF
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	for i := from; i < cmd.Args().Len(); i++ {
		f, err := openArg(cmd, i)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		files = append(files, f)
	}
	if len(files) < 2 {
		closeAll()
		return nil, nil, fmt.Errorf("need at least two input files")
	}
	return files, closeAll, nil
}

func concatCommand() *cli.Command {
	return &cli.Command{
		Name:      "concat",
		Usage:     "append structurally identical files end to end",
		ArgsUsage: "<out> <in>...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "sync", Usage: "align files on their recorded start times"},
			&cli.BoolFlag{Name: "continuous", Usage: "start each file right after the previous one"},
			&cli.BoolFlag{Name: "origin", Usage: "add a __samples_origin channel per group"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			outPath, err := outputArg(cmd, 0)
			if err != nil {
				return err
			}
			files, closeAll, err := openAll(cmd, 1)
			if err != nil {
				return err
			}
			defer closeAll()
			out, err := mdf.Concatenate(ctx, files, mdf.ConcatOptions{
				Sync:                        cmd.Bool("sync"),
				DirectTimestampContinuation: cmd.Bool("continuous"),
				AddSamplesOrigin:            cmd.Bool("origin"),
			})
			if err != nil {
				return err
			}
			defer out.Close()
			return out.Save(ctx, outPath)
		},
	}
}

func stackCommand() *cli.Command {
	return &cli.Command{
		Name:      "stack",
		Usage:     "union the groups of several files into one",
		ArgsUsage: "<out> <in>...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "sync", Usage: "align files on their recorded start times"},
			&cli.BoolFlag{Name: "origin", Usage: "tag each group with its source file index"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			outPath, err := outputArg(cmd, 0)
			if err != nil {
				return err
			}
			files, closeAll, err := openAll(cmd, 1)
			if err != nil {
				return err
			}
			defer closeAll()
			out, err := mdf.Stack(ctx, files, mdf.StackOptions{
				Sync:             cmd.Bool("sync"),
				AddSamplesOrigin: cmd.Bool("origin"),
			})
			if err != nil {
				return err
			}
			defer out.Close()
			return out.Save(ctx, outPath)
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "project the measurement onto one time base and export it",
		ArgsUsage: "<in> <out>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Value: "csv", Usage: "csv or json"},
			&cli.Float64Flag{Name: "step", Usage: "raster step in seconds"},
			&cli.BoolFlag{Name: "raw", Usage: "skip conversions"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			m, err := openArg(cmd, 0)
			if err != nil {
				return err
			}
			defer m.Close()
			outPath, err := outputArg(cmd, 1)
			if err != nil {
				return err
			}

			df, err := m.ToDataframe(ctx, mdf.DataframeOptions{
				Raster: mdf.Raster{Step: cmd.Float64("step")},
				Raw:    cmd.Bool("raw"),
			})
			if err != nil {
				return err
			}
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer f.Close()

			switch cmd.String("format") {
			case "csv":
				return df.WriteCSV(f)
			case "json":
				enc := json.NewEncoder(f)
				return enc.Encode(df)
			default:
				return fmt.Errorf("unknown export format %q", cmd.String("format"))
			}
		},
	}
}

func scrambleCommand() *cli.Command {
	return &cli.Command{
		Name:      "scramble",
		Usage:     "anonymize every text payload, keeping layout and samples",
		ArgsUsage: "<in> <out>",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "seed", Usage: "random seed, time-based when unset"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			m, err := openArg(cmd, 0)
			if err != nil {
				return err
			}
			defer m.Close()
			outPath, err := outputArg(cmd, 1)
			if err != nil {
				return err
			}
			rnd := rand.New(rand.NewSource(cmd.Int64("seed")))
			if !cmd.IsSet("seed") {
				rnd = rand.New(rand.NewSource(rand.Int63()))
			}
			if err := mdf.Scramble(m, rnd); err != nil {
				return err
			}
			return m.Save(ctx, outPath)
		},
	}
}

func cleanupCommand() *cli.Command {
	return &cli.Command{
		Name:      "cleanup",
		Usage:     "repair implausible master timestamps",
		ArgsUsage: "<in> <out>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			m, err := openArg(cmd, 0)
			if err != nil {
				return err
			}
			defer m.Close()
			outPath, err := outputArg(cmd, 1)
			if err != nil {
				return err
			}
			out, summary, err := m.CleanupTimestamps(ctx)
			if err != nil {
				return err
			}
			defer out.Close()
			if summary.Total > 0 {
				fmt.Fprintf(os.Stderr, "repaired %d timestamps across %d groups\n",
					summary.Total, len(summary.Repaired))
			}
			return out.Save(ctx, outPath)
		},
	}
}
