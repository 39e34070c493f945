// Command licensegate-restore turns an encrypted database snapshot back into a
// SQLite file. It reads the same LICENSEGATE_* environment as the server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/licensegate/internal/backup"
	"github.com/dukerupert/licensegate/internal/config"
	"github.com/dukerupert/licensegate/internal/logging"
	"github.com/dukerupert/licensegate/internal/objectstore"
)

var (
	rootCmd = &cobra.Command{
		Use:          "licensegate-restore",
		Short:        "Restore licensegate database snapshots",
		SilenceUsage: true,
	}
	fetchCmd = &cobra.Command{
		Use:   "fetch",
		Short: "Download and decrypt a snapshot from object storage",
		RunE:  cmdFetch,
	}
	decryptCmd = &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt a snapshot file already on disk",
		RunE:  cmdDecrypt,
	}

	fetchCfg struct {
		Key string
		Out string
	}
	decryptCfg struct {
		In  string
		Out string
	}
)

func init() {
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(decryptCmd)

	fetchCmd.Flags().StringVar(&fetchCfg.Key, "key", "", "object key, e.g. backups/licensegate-2025-06-01T030000Z.db.enc")
	fetchCmd.Flags().StringVar(&fetchCfg.Out, "out", "restored.db", "path for the decrypted database")
	fetchCmd.MarkFlagRequired("key")

	decryptCmd.Flags().StringVar(&decryptCfg.In, "in", "", "encrypted snapshot file")
	decryptCmd.Flags().StringVar(&decryptCfg.Out, "out", "restored.db", "path for the decrypted database")
	decryptCmd.MarkFlagRequired("in")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Backup.Passphrase == "" {
		return nil, fmt.Errorf("LICENSEGATE_BACKUP_PASSPHRASE is required")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

func cmdFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s3cfg := objectstore.S3Config{
		Endpoint:  cfg.S3.Endpoint,
		Bucket:    cfg.S3.Bucket,
		Region:    cfg.S3.Region,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
	}
	if !s3cfg.Configured() {
		return objectstore.ErrNotConfigured
	}

	m := backup.NewManager(nil, objectstore.NewClient(s3cfg), backup.Config{
		Bucket:     cfg.S3.Bucket,
		Prefix:     cfg.Backup.Prefix,
		Passphrase: cfg.Backup.Passphrase,
	}, slog.Default())

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	data, err := m.Fetch(ctx, fetchCfg.Key)
	if err != nil {
		return err
	}
	return writeOut(fetchCfg.Out, data)
}

func cmdDecrypt(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sealed, err := os.ReadFile(decryptCfg.In)
	if err != nil {
		return fmt.Errorf("read %s: %w", decryptCfg.In, err)
	}
	data, err := backup.Open(sealed, cfg.Backup.Passphrase)
	if err != nil {
		return err
	}
	return writeOut(decryptCfg.Out, data)
}

func writeOut(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	slog.Info("snapshot restored", "out", path, "bytes", len(data))
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
