package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gazette/internal/app"
	"gazette/internal/config"
	"gazette/internal/models"
	"gazette/internal/observability"
	"gazette/internal/pipeline"
	"gazette/internal/util"
)

type rootOptions struct {
	logLevel string
	json     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "gazettectl",
		Short:        "Operate the gazette document index",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override GAZETTE_LOG_LEVEL")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print results as JSON")

	root.AddCommand(newMigrateCmd(opts), newIngestCmd(opts), newAskCmd(opts))
	return root
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				if err := a.Migrate(ctx); err != nil {
					return err
				}
				cmd.Printf("schema ready (embedding dimension %d)\n", a.Config.EmbedDim)
				return nil
			})
		},
	}
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var sourceType string
	cmd := &cobra.Command{
		Use:   "ingest <file.pdf>",
		Short: "Upload a gazette PDF and index it inline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readFile(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				res, err := a.Ingestor(nil).Upload(ctx, pipeline.UploadInput{
					FileName:   filepath.Base(args[0]),
					MIMEType:   mime.TypeByExtension(filepath.Ext(args[0])),
					SourceType: sourceType,
					Data:       data,
				})
				if err != nil {
					return err
				}
				if opts.json {
					return printJSON(cmd.OutOrStdout(), res)
				}
				cmd.Printf("%s %s (%d bytes, %d chars of text) status=%s\n", res.DocumentID, res.FileName, res.FileSize, res.TextLength, res.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sourceType, "source-type", "", "gazette source type, e.g. central or state")
	return cmd
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Answer a question from the indexed gazettes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				ans, err := a.Query.Answer(ctx, args[0], topK)
				if errors.Is(err, util.ErrNoMatchingContent) {
					cmd.Println("No results found.")
					return nil
				}
				if err != nil {
					return err
				}
				if opts.json {
					return printJSON(cmd.OutOrStdout(), ans)
				}
				printAnswer(cmd.OutOrStdout(), ans)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of chunks to retrieve (default from GAZETTE_DEFAULT_TOP_K)")
	return cmd
}

func withApp(ctx context.Context, opts *rootOptions, fn func(context.Context, *app.App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.Load()
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	a, err := app.New(startCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("startup", zap.Error(err))
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printAnswer(w io.Writer, ans models.Answer) {
	fmt.Fprintln(w, ans.Summary)
	if len(ans.Citations) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Citations:")
	for i, c := range ans.Citations {
		fmt.Fprintf(w, "  [C%d] %s chunk %s (%.2f)\n", i+1, c.GazetteID, c.ChunkID, c.Similarity)
		fmt.Fprintf(w, "       %s\n", util.Excerpt(c.Snippet, 160))
	}
}
