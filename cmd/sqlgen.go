package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deals/internal/sqldump"
)

var (
	sqlgenFile       string
	sqlgenSQLOut     string
	sqlgenRejectsOut string
	sqlgenWithSchema bool
)

var sqlgenCmd = &cobra.Command{
	Use:         "sqlgen",
	Short:       "Convert crawler NDJSON into an SQL dump for D1",
	Annotations: map[string]string{modeAnnotation: "sqlgen"},
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := runSQLGen(cmd.Context(), sqlgenFile, sqlgenSQLOut, sqlgenRejectsOut, sqlgenWithSchema)
		return err
	},
}

func init() {
	sqlgenCmd.Flags().StringVar(&sqlgenFile, "file", "", "path to crawler NDJSON file (required)")
	sqlgenCmd.Flags().StringVar(&sqlgenSQLOut, "sql-out", "deals.sql", "path of the generated SQL dump")
	sqlgenCmd.Flags().StringVar(&sqlgenRejectsOut, "rejects-out", "rejects.ndjson", "path of the rejected records file")
	sqlgenCmd.Flags().BoolVar(&sqlgenWithSchema, "with-schema", false, "prepend the schema so the dump seeds an empty database")
	_ = sqlgenCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(sqlgenCmd)
}

func runSQLGen(ctx context.Context, inPath, sqlPath, rejectsPath string, withSchema bool) (*sqldump.Result, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return nil, eris.Wrap(err, "open crawler output")
	}
	defer in.Close() //nolint:errcheck

	sqlOut, err := os.Create(sqlPath)
	if err != nil {
		return nil, eris.Wrap(err, "create sql dump")
	}
	defer sqlOut.Close() //nolint:errcheck

	rejects, err := os.Create(rejectsPath)
	if err != nil {
		return nil, eris.Wrap(err, "create rejects file")
	}
	defer rejects.Close() //nolint:errcheck

	res, err := sqldump.NewConverter().Convert(ctx, in, sqlOut, rejects, sqldump.Options{
		SeenAt:     time.Now(),
		WithSchema: withSchema,
	})
	if err != nil {
		return res, eris.Wrap(err, "convert deals")
	}
	if err := sqlOut.Sync(); err != nil {
		return res, eris.Wrap(err, "sync sql dump")
	}

	zap.L().Info("sql dump generated",
		zap.String("input", inPath),
		zap.String("sql", sqlPath),
		zap.String("rejects", rejectsPath),
		zap.Int("total", res.Total),
		zap.Int("accepted", res.Accepted),
		zap.Int("rejected", res.Rejected),
	)
	return res, nil
}
