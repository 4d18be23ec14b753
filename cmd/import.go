package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deals/internal/config"
	"github.com/sells-group/deals/pkg/d1"
)

var importFile string

var importCmd = &cobra.Command{
	Use:         "import",
	Short:       "Upload an SQL dump into Cloudflare D1",
	Annotations: map[string]string{modeAnnotation: "import"},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runImport(cmd.Context(), cfg.D1, importFile)
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "deals.sql", "path to the SQL dump")
	rootCmd.AddCommand(importCmd)
}

// newD1Client builds a D1 client and poll options from config.
func newD1Client(c config.D1Config) (d1.Client, []d1.PollOption) {
	var opts []d1.Option
	if c.BaseURL != "" {
		opts = append(opts, d1.WithBaseURL(c.BaseURL))
	}
	client := d1.NewClient(c.AccountID, c.DatabaseID, c.APIKey, opts...)
	poll := []d1.PollOption{
		d1.WithPollAttempts(c.Poll.MaxAttempts),
		d1.WithPollInterval(c.Poll.InitialInterval),
		d1.WithPollCap(c.Poll.MaxInterval),
	}
	return client, poll
}

func runImport(ctx context.Context, c config.D1Config, path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		zap.L().Error("Import failed", zap.String("file", path), zap.Error(err))
		return eris.Wrap(err, "read sql dump")
	}

	client, poll := newD1Client(c)
	res, err := d1.Import(ctx, client, payload, poll...)
	if err != nil {
		zap.L().Error("Import failed", zap.String("file", path), zap.Error(err))
		return eris.Wrap(err, "import sql dump")
	}

	zap.L().Info("Import completed successfully",
		zap.String("file", path),
		zap.Int("bytes", len(payload)),
		zap.String("status", res.Status),
	)
	return nil
}
