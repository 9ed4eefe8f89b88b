package main

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/mtzanidakis/nimbus/internal/config"
	"github.com/mtzanidakis/nimbus/internal/store"
)

// Archive entry names.
const (
	entryDatabase = "nimbus.db"
	entryConfig   = "nimbus.yaml"
)

type archiveFile struct {
	name string // entry name inside the archive
	path string // file on disk
}

func runBackup(args []string) error {
	outputPath := flagValue(args, "-f")
	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: nimbus backup -f <output.tar.zst>\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	count, err := createBackup(cfg, outputPath)
	if err != nil {
		return err
	}

	size := int64(0)
	if info, err := os.Stat(outputPath); err == nil {
		size = info.Size()
	}
	fmt.Printf("Backup complete: %d files, %s\n", count, formatSize(size))
	return nil
}

// createBackup snapshots the database and archives it with the config
// file, when one was loaded. It returns the number of archived files.
func createBackup(cfg *config.Config, outputPath string) (int, error) {
	db, err := store.New(cfg.Store)
	if err != nil {
		return 0, fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	tmpDir, err := os.MkdirTemp("", "nimbus-backup-")
	if err != nil {
		return 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, entryDatabase)
	if err := db.SnapshotTo(snapshot); err != nil {
		return 0, err
	}

	files := []archiveFile{{name: entryDatabase, path: snapshot}}
	if cfg.Path != "" {
		files = append(files, archiveFile{name: entryConfig, path: cfg.Path})
	}

	if err := writeArchive(outputPath, files); err != nil {
		return 0, err
	}
	return len(files), nil
}

func writeArchive(outputPath string, files []archiveFile) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	for _, af := range files {
		if err := addFile(tw, af); err != nil {
			return fmt.Errorf("archive %s: %w", af.name, err)
		}
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, af archiveFile) error {
	src, err := os.Open(af.path)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:    af.name,
		Mode:    0o600,
		Size:    info.Size(),
		ModTime: info.ModTime().Truncate(time.Second),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, src)
	return err
}

func runRestore(args []string) error {
	inputPath := flagValue(args, "-f")
	overwrite := hasFlag(args, "-overwrite")
	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: nimbus restore -f <backup.tar.zst> [-overwrite]\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	targets := map[string]string{
		entryDatabase: cfg.Store.Path,
		entryConfig:   config.FilePath(),
	}
	n, err := extractArchive(inputPath, targets, overwrite)
	if err != nil {
		return err
	}
	fmt.Printf("Restore complete: %d files\n", n)
	return nil
}

// scanArchive lists the entry names of a backup without reading file data.
func scanArchive(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	var names []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, hdr.Name)
	}
	return names, nil
}

// extractArchive writes every known entry to its target path. Unknown
// entries are skipped. Existing targets are refused unless overwrite is set.
func extractArchive(path string, targets map[string]string, overwrite bool) (int, error) {
	names, err := scanArchive(path)
	if err != nil {
		return 0, fmt.Errorf("scan archive: %w", err)
	}
	if !overwrite {
		for _, name := range names {
			dst, ok := targets[name]
			if !ok {
				continue
			}
			if _, err := os.Stat(dst); err == nil {
				return 0, fmt.Errorf("%s already exists, add -overwrite to replace it", dst)
			}
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	restored := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return restored, fmt.Errorf("read tar entry: %w", err)
		}
		dst, ok := targets[hdr.Name]
		if !ok || hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := writeEntry(dst, tr); err != nil {
			return restored, fmt.Errorf("restore %s: %w", hdr.Name, err)
		}
		restored++
	}
	return restored, nil
}

// writeEntry writes through a temp file and renames it into place.
func writeEntry(dst string, r io.Reader) error {
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
	// Stale WAL files would be replayed over the restored database.
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(dst + suffix)
	}
	return os.Rename(tmp.Name(), dst)
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
