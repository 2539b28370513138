package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/derpz-discord/math-tavern-bot/internal/backup"
	"github.com/derpz-discord/math-tavern-bot/internal/config"
)

var (
	exportOutput string
	exportS3     bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Dump every config document as JSONL",
	Long: `Dump every config document as JSONL.

Reads directly from the configured backend. The dump goes to stdout unless
--output names a file; --s3 also uploads it to the configured backup bucket.`,
	GroupID:           "data",
	Args:              cobra.NoArgs,
	PersistentPreRunE: localPreRun,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel)

		kv, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer kv.Close()

		var buf bytes.Buffer
		n, err := backup.ExportJSONL(cmd.Context(), kv, &buf)
		if err != nil {
			return fmt.Errorf("exporting: %w", err)
		}

		var dests []backup.Destination
		if exportOutput != "" && exportOutput != "-" {
			dests = append(dests, backup.FileDestination{Path: exportOutput})
		}
		if exportS3 {
			if cfg.BackupS3Bucket == "" {
				return fmt.Errorf("--s3 requires COGSTORE_BACKUP_S3_BUCKET")
			}
			s3Dest, err := backup.NewS3Destination(cmd.Context(), cfg.BackupS3Bucket, cfg.BackupS3Key, cfg.BackupS3Region, cfg.BackupS3Endpoint)
			if err != nil {
				return err
			}
			dests = append(dests, s3Dest)
		}

		if len(dests) == 0 {
			_, err := stdout.Write(buf.Bytes())
			return err
		}
		for _, dest := range dests {
			if err := dest.Write(cmd.Context(), buf.Bytes()); err != nil {
				return fmt.Errorf("writing %s: %w", dest, err)
			}
			fmt.Fprintf(os.Stderr, "Exported %d records to %s\n", n, dest)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file|->",
	Short: "Restore config documents from a JSONL dump",
	Long: `Restore config documents from a JSONL dump.

Every record is written in a single batch, replacing documents with the
same key. Documents not present in the dump are left alone.`,
	GroupID:           "data",
	Args:              cobra.ExactArgs(1),
	PersistentPreRunE: localPreRun,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel)

		var r io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}

		kv, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer kv.Close()

		n, err := backup.ImportJSONL(cmd.Context(), kv, r)
		if err != nil {
			return fmt.Errorf("importing: %w", err)
		}
		fmt.Fprintf(stdout, "Imported %d records\n", n)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write the dump to a file instead of stdout")
	exportCmd.Flags().BoolVar(&exportS3, "s3", false, "also upload the dump to the configured S3 bucket")
}
