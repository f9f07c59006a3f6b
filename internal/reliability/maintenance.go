package reliability

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/barkeep/internal/database"
)

// MaintenanceService runs the recurring cold-store upkeep: integrity
// checks and WAL checkpoints daily, VACUUM weekly.
type MaintenanceService struct {
	db      *database.DB
	dataDir string
	now     func() time.Time
	log     zerolog.Logger
}

// NewMaintenanceService creates the maintenance service. dataDir is the
// filesystem the disk space check watches.
func NewMaintenanceService(db *database.DB, dataDir string, log zerolog.Logger) *MaintenanceService {
	return &MaintenanceService{
		db:      db,
		dataDir: dataDir,
		now:     time.Now,
		log:     log.With().Str("service", "maintenance").Logger(),
	}
}

// RunDaily performs the daily upkeep pass.
func (s *MaintenanceService) RunDaily(ctx context.Context) error {
	s.log.Info().Msg("Starting daily maintenance")
	startTime := s.now()

	// Integrity first: a corrupt store makes checkpointing pointless.
	if err := s.db.HealthCheck(ctx); err != nil {
		s.log.Error().Err(err).Msg("Cold store failed integrity check")
		return fmt.Errorf("cold store health check failed: %w", err)
	}

	if err := s.db.WALCheckpoint(ctx); err != nil {
		// Blocked checkpoints retry tomorrow; readers win.
		s.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	if err := s.checkDiskSpace(); err != nil {
		return err
	}

	s.log.Info().
		Dur("duration_ms", s.now().Sub(startTime)).
		Msg("Daily maintenance completed")
	return nil
}

// RunWeekly reclaims free pages with a VACUUM.
func (s *MaintenanceService) RunWeekly(ctx context.Context) error {
	s.log.Info().Msg("Starting weekly maintenance")
	startTime := s.now()

	if err := s.db.Vacuum(ctx); err != nil {
		s.log.Error().Err(err).Msg("VACUUM failed")
		return err
	}

	s.log.Info().
		Dur("duration_ms", s.now().Sub(startTime)).
		Msg("Weekly maintenance completed")
	return nil
}

// checkDiskSpace errors when the data filesystem is critically low.
func (s *MaintenanceService) checkDiskSpace() error {
	stat := syscall.Statfs_t{}
	if err := syscall.Statfs(s.dataDir, &stat); err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableBytes := stat.Bavail * uint64(stat.Bsize)
	availableGB := float64(availableBytes) / 1e9

	s.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	if availableGB < 0.5 {
		return fmt.Errorf("only %.2f GB free on data filesystem", availableGB)
	}
	if availableGB < 5.0 {
		s.log.Warn().Float64("available_gb", availableGB).Msg("Disk space running low")
	}
	return nil
}
