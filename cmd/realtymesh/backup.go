package main

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/mtzanidakis/realtymesh/internal/config"
	"github.com/mtzanidakis/realtymesh/internal/store"
	"github.com/mtzanidakis/realtymesh/internal/vault"
)

// Archive entry names.
const (
	entryStore  = "store/realtymesh.db"
	entryConfig = "config/realtymesh.yaml"
)

var (
	backupFile       string
	backupPassphrase string
	restoreOverwrite bool
)

var backupCmd = &cobra.Command{
	Use:     "backup",
	Short:   "Archive the run history and config into a .tar.zst file",
	Example: "  realtymesh backup -f realtymesh-backup.tar.zst",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		db, err := store.New(cfg.Store)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()

		n, err := writeBackup(backupFile, db, config.Path(), resolvePassphrase())
		if err != nil {
			return err
		}
		info, _ := os.Stat(backupFile)
		size := int64(0)
		if info != nil {
			size = info.Size()
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Backup complete: %d files, %s\n", n, formatSize(size))
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the run history and config from a backup archive",
	Long: `Restore the run history and config from a backup archive.

Stop the gateway first: the store file is replaced, not merged.`,
	Example: "  realtymesh restore -f realtymesh-backup.tar.zst --overwrite",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		n, err := restoreBackup(backupFile, cfg.Store.Path, config.Path(), resolvePassphrase(), restoreOverwrite)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Restore complete: %d files\n", n)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{backupCmd, restoreCmd} {
		c.Flags().StringVarP(&backupFile, "file", "f", "", "Archive path (.tar.zst)")
		c.Flags().StringVar(&backupPassphrase, "passphrase", "", "Encrypt or decrypt the archive (default $REALTYMESH_BACKUP_PASSPHRASE)")
		_ = c.MarkFlagRequired("file")
	}
	restoreCmd.Flags().BoolVar(&restoreOverwrite, "overwrite", false, "Replace existing files")
}

func resolvePassphrase() string {
	if backupPassphrase != "" {
		return backupPassphrase
	}
	return os.Getenv("REALTYMESH_BACKUP_PASSPHRASE")
}

// writeBackup archives a snapshot of the store and, when present, the config
// file. A non-empty passphrase seals the archive with the vault. It returns
// the number of files written.
func writeBackup(outputPath string, db *store.Store, configPath, passphrase string) (int, error) {
	tmp, err := os.MkdirTemp("", "realtymesh-backup-")
	if err != nil {
		return 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	snap := filepath.Join(tmp, "realtymesh.db")
	if err := db.Snapshot(snap); err != nil {
		return 0, err
	}

	files := []archiveFile{{entryStore, snap}}
	if _, err := os.Stat(configPath); err == nil {
		files = append(files, archiveFile{entryConfig, configPath})
	} else {
		slog.Warn("config file not found, archiving store only", "path", configPath)
	}

	if passphrase == "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return 0, fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		if err := writeArchive(f, files); err != nil {
			return 0, err
		}
		if err := f.Close(); err != nil {
			return 0, fmt.Errorf("close file: %w", err)
		}
		return len(files), nil
	}

	var buf bytes.Buffer
	if err := writeArchive(&buf, files); err != nil {
		return 0, err
	}
	sealed, err := vault.Seal(passphrase, buf.Bytes())
	if err != nil {
		return 0, fmt.Errorf("encrypt archive: %w", err)
	}
	if err := os.WriteFile(outputPath, sealed, 0o600); err != nil {
		return 0, fmt.Errorf("write output file: %w", err)
	}
	return len(files), nil
}

type archiveFile struct{ entry, src string }

func writeArchive(w io.Writer, files []archiveFile) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	for _, file := range files {
		slog.Info("archiving", "entry", file.entry)
		if err := addFile(tw, file.entry, file.src); err != nil {
			return fmt.Errorf("archive %s: %w", file.entry, err)
		}
	}

	// Close explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, name, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:     name,
		Typeflag: tar.TypeReg,
		Mode:     0o600,
		Size:     info.Size(),
		ModTime:  time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, in)
	return err
}

// restoreBackup extracts a backup archive onto the store and config paths.
// Without overwrite it refuses to replace an existing file.
func restoreBackup(inputPath, storePath, configPath, passphrase string, overwrite bool) (int, error) {
	entries, err := scanArchive(inputPath, passphrase)
	if err != nil {
		return 0, fmt.Errorf("scan archive: %w", err)
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("archive %s has no store or config entries", inputPath)
	}

	targets := map[string]string{entryStore: storePath, entryConfig: configPath}
	if !overwrite {
		for _, e := range entries {
			if _, err := os.Stat(targets[e]); err == nil {
				return 0, fmt.Errorf("%s already exists, add --overwrite to replace it", targets[e])
			}
		}
	}

	tr, closeArchive, err := openArchive(inputPath, passphrase)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer closeArchive()

	restored := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restored, fmt.Errorf("read tar entry: %w", err)
		}
		dst, ok := targets[cleanEntry(hdr.Name)]
		if !ok || hdr.Typeflag != tar.TypeReg {
			continue
		}

		slog.Info("restoring", "entry", hdr.Name, "path", dst)
		if err := extractFile(tr, dst); err != nil {
			return restored, fmt.Errorf("restore %s: %w", dst, err)
		}
		if dst == storePath {
			// Stale WAL files would be replayed over the restored database.
			os.Remove(storePath + "-wal")
			os.Remove(storePath + "-shm")
		}
		restored++
	}
	return restored, nil
}

// extractFile writes r to a temp file next to dst and renames it into place.
func extractFile(r io.Reader, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".restore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// openArchive returns a tar reader over a plain or sealed archive.
func openArchive(path, passphrase string) (*tar.Reader, func(), error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if vault.IsSealed(data) {
		if passphrase == "" {
			return nil, nil, fmt.Errorf("archive is encrypted, use --passphrase")
		}
		if data, err = vault.Open(passphrase, data); err != nil {
			return nil, nil, err
		}
	}
	zr, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	return tar.NewReader(zr), zr.Close, nil
}

// scanArchive lists the known entries of an archive without extracting.
func scanArchive(path, passphrase string) ([]string, error) {
	tr, closeArchive, err := openArchive(path, passphrase)
	if err != nil {
		return nil, err
	}
	defer closeArchive()

	var names []string
	seen := make(map[string]bool)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		name := cleanEntry(hdr.Name)
		if (name == entryStore || name == entryConfig) && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}

func cleanEntry(name string) string {
	return strings.TrimLeft(name, "./")
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
