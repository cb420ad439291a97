package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/foresight/internal/database"
)

const archivePrefix = "foresight-backup-"
const archiveTimeLayout = "2006-01-02-150405"

// Always keep this many archives regardless of retention
const minArchivesToKeep = 3

// BackupService snapshots each database, packs the snapshots into a single
// tar.gz archive and uploads it to object storage.
type BackupService struct {
	store     *ObjectStore
	databases []*database.DB
	dataDir   string
	retention int
	log       zerolog.Logger
}

// ArchiveMetadata describes one uploaded archive
type ArchiveMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes a single database inside an archive
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// NewBackupService creates a backup service over the given databases
func NewBackupService(store *ObjectStore, databases []*database.DB, dataDir string, retention int, log zerolog.Logger) *BackupService {
	return &BackupService{
		store:     store,
		databases: databases,
		dataDir:   dataDir,
		retention: retention,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// Backup creates and uploads one archive, then prunes old archives
func (s *BackupService) Backup(ctx context.Context) error {
	s.log.Info().Msg("Starting backup")
	startTime := time.Now()

	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := ArchiveMetadata{
		Timestamp: time.Now().UTC(),
		Databases: make([]DatabaseMetadata, 0, len(s.databases)),
	}

	var archiveMembers []string
	for _, db := range s.databases {
		filename := db.Name() + ".db"
		snapshotPath := filepath.Join(stagingDir, filename)

		if err := s.snapshotDatabase(db, snapshotPath); err != nil {
			return fmt.Errorf("failed to snapshot %s: %w", db.Name(), err)
		}

		info, err := os.Stat(snapshotPath)
		if err != nil {
			return fmt.Errorf("failed to stat %s snapshot: %w", db.Name(), err)
		}

		checksum, err := fileChecksum(snapshotPath)
		if err != nil {
			return fmt.Errorf("failed to checksum %s snapshot: %w", db.Name(), err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      db.Name(),
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		archiveMembers = append(archiveMembers, filename)
	}

	metadataPath := filepath.Join(stagingDir, "backup-metadata.json")
	if err := writeMetadata(metadataPath, metadata); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	archiveMembers = append(archiveMembers, "backup-metadata.json")

	archiveName := archivePrefix + time.Now().Format(archiveTimeLayout) + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, stagingDir, archiveMembers); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.store.Upload(ctx, archiveName, archiveFile); err != nil {
		return fmt.Errorf("failed to upload archive: %w", err)
	}

	s.log.Info().
		Dur("elapsed", time.Since(startTime)).
		Str("archive", archiveName).
		Int64("size_bytes", archiveInfo.Size()).
		Msg("Backup uploaded")

	if err := s.pruneOldArchives(ctx); err != nil {
		// Pruning failure leaves extra archives behind but the backup itself
		// succeeded
		s.log.Error().Err(err).Msg("Failed to prune old archives")
	}

	return nil
}

// snapshotDatabase writes a consistent point-in-time copy via VACUUM INTO,
// which works while the WAL is live.
func (s *BackupService) snapshotDatabase(db *database.DB, destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		if err := os.Remove(destPath); err != nil {
			return fmt.Errorf("failed to remove stale snapshot: %w", err)
		}
	}

	_, err := db.Conn().Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("vacuum into failed: %w", err)
	}
	return nil
}

// ListArchives lists uploaded archives, newest first
func (s *BackupService) ListArchives(ctx context.Context) ([]StoredObject, error) {
	objects, err := s.store.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}

	var archives []StoredObject
	for _, obj := range objects {
		if strings.HasSuffix(obj.Key, ".tar.gz") {
			archives = append(archives, obj)
		}
	}

	// Keys embed the creation timestamp, so newest-first is reverse
	// lexicographic
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Key > archives[j].Key
	})
	return archives, nil
}

// pruneOldArchives deletes archives beyond the retention count, always
// keeping the newest few
func (s *BackupService) pruneOldArchives(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}

	archives, err := s.ListArchives(ctx)
	if err != nil {
		return err
	}

	keep := s.retention
	if keep < minArchivesToKeep {
		keep = minArchivesToKeep
	}
	if len(archives) <= keep {
		return nil
	}

	deleted := 0
	for _, archive := range archives[keep:] {
		if err := s.store.Delete(ctx, archive.Key); err != nil {
			s.log.Error().Err(err).Str("key", archive.Key).Msg("Failed to delete old archive")
			continue
		}
		s.log.Info().Str("key", archive.Key).Msg("Deleted old archive")
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(archives)-deleted).
		Msg("Archive rotation completed")
	return nil
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeMetadata(path string, metadata ArchiveMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

func createArchive(archivePath, sourceDir string, members []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, member := range members {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, member), member); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", member, err)
		}
	}
	return nil
}

func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}

	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(tarWriter, file)
	return err
}
