package reliability

import (
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

	"github.com/aristath/barkeep/internal/store"
)

const (
	snapshotPrefix = "barkeep-snapshot-"
	snapshotSuffix = ".snap.gz"
	timestampForm  = "2006-01-02-150405"

	// minSnapshotsToKeep bounds rotation: the newest snapshots survive
	// regardless of the configured retention.
	minSnapshotsToKeep = 3
)

// SnapshotMetadata is the JSON sidecar uploaded next to each archive.
type SnapshotMetadata struct {
	CreatedAt time.Time `json:"created_at"`
	Bars      int       `json:"bars"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
}

// SnapshotInfo describes one snapshot stored in the bucket.
type SnapshotInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
}

// BackupService ships cold-store snapshots to object storage and rotates
// old ones out.
type BackupService struct {
	store      *store.TieredStore
	objects    ObjectStore
	stagingDir string
	retain     int
	now        func() time.Time
	log        zerolog.Logger
}

// NewBackupService creates the backup service. retain is the number of
// snapshots kept per rotation; values below the minimum are raised to it.
func NewBackupService(st *store.TieredStore, objects ObjectStore, stagingDir string, retain int, log zerolog.Logger) *BackupService {
	if retain < minSnapshotsToKeep {
		retain = minSnapshotsToKeep
	}
	return &BackupService{
		store:      st,
		objects:    objects,
		stagingDir: stagingDir,
		retain:     retain,
		now:        time.Now,
		log:        log.With().Str("service", "backup").Logger(),
	}
}

// CreateAndUpload snapshots the cold store into a gzipped archive, stages
// it locally and uploads it together with a metadata sidecar.
func (s *BackupService) CreateAndUpload(ctx context.Context) error {
	s.log.Info().Msg("Starting snapshot backup")
	startTime := s.now()

	if err := os.MkdirAll(s.stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	name := snapshotPrefix + startTime.UTC().Format(timestampForm) + snapshotSuffix
	stagingPath := filepath.Join(s.stagingDir, name)
	defer os.Remove(stagingPath)

	bars, err := s.writeArchive(ctx, stagingPath)
	if err != nil {
		return err
	}

	info, err := os.Stat(stagingPath)
	if err != nil {
		return fmt.Errorf("failed to stat snapshot archive: %w", err)
	}

	checksum, err := fileChecksum(stagingPath)
	if err != nil {
		return fmt.Errorf("failed to checksum snapshot archive: %w", err)
	}

	archive, err := os.Open(stagingPath)
	if err != nil {
		return fmt.Errorf("failed to open snapshot archive: %w", err)
	}
	defer archive.Close()

	if err := s.objects.Upload(ctx, name, archive); err != nil {
		return fmt.Errorf("failed to upload snapshot: %w", err)
	}

	if err := s.uploadMetadata(ctx, name, SnapshotMetadata{
		CreatedAt: startTime.UTC(),
		Bars:      bars,
		SizeBytes: info.Size(),
		Checksum:  checksum,
	}); err != nil {
		return err
	}

	s.log.Info().
		Str("archive", name).
		Int("bars", bars).
		Int64("size_bytes", info.Size()).
		Dur("duration_ms", s.now().Sub(startTime)).
		Msg("Snapshot backup completed")
	return nil
}

// writeArchive streams the store snapshot through gzip into path.
func (s *BackupService) writeArchive(ctx context.Context, path string) (int, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create snapshot archive: %w", err)
	}
	defer file.Close()

	gz := gzip.NewWriter(file)
	bars, err := s.store.Snapshot(ctx, gz)
	if err != nil {
		_ = gz.Close()
		return 0, fmt.Errorf("failed to snapshot store: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish snapshot archive: %w", err)
	}
	return bars, file.Sync()
}

// uploadMetadata ships the JSON sidecar for an archive.
func (s *BackupService) uploadMetadata(ctx context.Context, archiveName string, meta SnapshotMetadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot metadata: %w", err)
	}
	key := archiveName + ".json"
	if err := s.objects.Upload(ctx, key, strings.NewReader(string(payload))); err != nil {
		return fmt.Errorf("failed to upload snapshot metadata: %w", err)
	}
	return nil
}

// ListSnapshots returns the stored snapshots, newest first.
func (s *BackupService) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	objects, err := s.objects.List(ctx, snapshotPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	snapshots := make([]SnapshotInfo, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, snapshotPrefix) || !strings.HasSuffix(obj.Key, snapshotSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(obj.Key, snapshotPrefix), snapshotSuffix)
		ts, err := time.Parse(timestampForm, stamp)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Skipping snapshot with unparseable timestamp")
			continue
		}
		snapshots = append(snapshots, SnapshotInfo{
			Key:       obj.Key,
			Timestamp: ts,
			SizeBytes: obj.Size,
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// Rotate deletes snapshots beyond the retention count, never dropping
// below the minimum. Sidecar metadata goes with its archive.
func (s *BackupService) Rotate(ctx context.Context) error {
	snapshots, err := s.ListSnapshots(ctx)
	if err != nil {
		return err
	}
	if len(snapshots) <= s.retain {
		s.log.Debug().Int("count", len(snapshots)).Msg("Nothing to rotate")
		return nil
	}

	deleted := 0
	for _, snap := range snapshots[s.retain:] {
		if err := s.objects.Delete(ctx, snap.Key); err != nil {
			s.log.Error().Err(err).Str("key", snap.Key).Msg("Failed to delete old snapshot")
			continue
		}
		if err := s.objects.Delete(ctx, snap.Key+".json"); err != nil {
			s.log.Warn().Err(err).Str("key", snap.Key).Msg("Failed to delete snapshot metadata")
		}
		deleted++
		s.log.Info().Str("key", snap.Key).Time("timestamp", snap.Timestamp).Msg("Deleted old snapshot")
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(snapshots)-deleted).
		Msg("Snapshot rotation completed")
	return nil
}

// RestoreLatest downloads the newest snapshot and merges it into the
// store. Returns the number of rows restored.
func (s *BackupService) RestoreLatest(ctx context.Context) (int, error) {
	snapshots, err := s.ListSnapshots(ctx)
	if err != nil {
		return 0, err
	}
	if len(snapshots) == 0 {
		return 0, fmt.Errorf("no snapshots available")
	}
	return s.Restore(ctx, snapshots[0].Key)
}

// Restore merges a named snapshot into the store.
func (s *BackupService) Restore(ctx context.Context, key string) (int, error) {
	s.log.Info().Str("key", key).Msg("Restoring snapshot")

	body, err := s.objects.Open(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to open snapshot %s: %w", key, err)
	}
	defer body.Close()

	gz, err := gzip.NewReader(body)
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}
	defer gz.Close()

	rows, err := s.store.Restore(ctx, gz)
	if err != nil {
		return rows, fmt.Errorf("failed to restore snapshot %s: %w", key, err)
	}

	s.log.Info().Str("key", key).Int("rows", rows).Msg("Snapshot restored")
	return rows, nil
}

// fileChecksum calculates the SHA256 checksum of a file.
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
