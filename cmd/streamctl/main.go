package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"torrentstream/streamservice/internal/app"
	"torrentstream/streamservice/internal/domain"
	"torrentstream/streamservice/internal/quality"
	"torrentstream/streamservice/internal/torrentmeta"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "streamctl",
		Short: "Operator tool for the stream sources service",
		Long: `streamctl runs the stream aggregation engine without the HTTP layer.

It reads the same environment variables as the server.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: app.ParseLogLevel(logLevel),
			})))
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level written to stderr (debug, info, warn, error)")

	rootCmd.AddCommand(RunAggregateCommand())
	rootCmd.AddCommand(RunManifestCommand())
	rootCmd.AddCommand(RunClassifyCommand())
	return rootCmd
}

func RunAggregateCommand() *cobra.Command {
	var (
		baseURL string
		timeout time.Duration
	)

	command := &cobra.Command{
		Use:   "aggregate <type> <id>",
		Short: "Print the ranked streams for a request as JSON",
		Long: `Aggregate streams exactly as the stream route would.

Examples:
  streamctl aggregate movie tt0111161
  streamctl aggregate series tt0944947:1:2`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := domain.ParseStreamRequest(args[0], args[1])
			if err != nil {
				return err
			}
			base, err := url.Parse(baseURL)
			if err != nil {
				return fmt.Errorf("invalid --base-url: %w", err)
			}

			cfg := app.LoadConfig()
			cfg.PreloadNextEpisode = false
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			rt := app.Build(ctx, cfg, slog.Default())
			defer func() { _ = rt.Close() }()

			streams, err := rt.Engine.Aggregate(ctx, req, base)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), streams)
		},
	}

	command.Flags().StringVar(&baseURL, "base-url", "http://localhost:8000", "addon root used for debrid links")
	command.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall deadline")
	return command
}

func RunManifestCommand() *cobra.Command {
	var (
		torrentBaseURL string
		all            bool
	)

	command := &cobra.Command{
		Use:   "manifest <infohash>",
		Short: "List the video files of a torrent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.LoadConfig()
			if torrentBaseURL == "" {
				torrentBaseURL = cfg.TorrentMetaBaseURL
			}
			fetcher := torrentmeta.NewFetcher(torrentmeta.Config{
				BaseURL:   torrentBaseURL,
				UserAgent: cfg.UserAgent,
			})
			manifest, err := fetcher.Manifest(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			files := manifest.Files
			if !all {
				files = manifest.VideoFiles(domain.MinVideoFileSize)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", manifest.Name, manifest.InfoHash)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tSIZE\tQUALITY\tPATH")
			for _, f := range files {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", f.Index, domain.FormatBytes(f.Length), quality.Classify(f.Name()), f.Path)
			}
			return tw.Flush()
		},
	}

	command.Flags().StringVar(&torrentBaseURL, "torrent-base-url", "", "torrent download root (default from TORRENT_META_BASE_URL)")
	command.Flags().BoolVar(&all, "all", false, "list every file, not only videos")
	return command
}

func RunClassifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <title>...",
		Short: "Print the quality label of release titles",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "QUALITY\tRANK\tEXCLUDED\tTITLE")
			for _, title := range args {
				label := quality.Classify(title)
				fmt.Fprintf(tw, "%s\t%d\t%t\t%s\n", quality.Formatted(label), quality.Priority(label), quality.Excluded(label), title)
			}
			_ = tw.Flush()
		},
	}
}

func writeJSON(w io.Writer, payload any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(payload)
}
