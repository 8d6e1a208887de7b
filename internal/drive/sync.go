package drive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/anair/spendsight/internal/userdir"
)

const archiveNamePrefix = "takeout"

// IngestFunc is invoked after a fresh activity file lands in a namespace.
type IngestFunc func(ctx context.Context, userID string) error

// Syncer polls the remote archive store for new takeout zips, pulls the
// newest one into the user namespace, and triggers ingestion.
type Syncer struct {
	store      ArchiveStore
	resolver   *userdir.Resolver
	folderName string
	interval   time.Duration
	ingest     IngestFunc
	log        zerolog.Logger
}

// NewSyncer creates a syncer; ingest may be nil when ingestion is
// triggered elsewhere.
func NewSyncer(store ArchiveStore, resolver *userdir.Resolver, folderName string,
	interval time.Duration, ingest IngestFunc, log zerolog.Logger) *Syncer {
	return &Syncer{
		store:      store,
		resolver:   resolver,
		folderName: folderName,
		interval:   interval,
		ingest:     ingest,
		log:        log,
	}
}

// Run polls until ctx is cancelled. Individual poll failures are logged
// and retried on the next tick.
func (s *Syncer) Run(ctx context.Context, userID string) error {
	if _, err := s.SyncOnce(ctx, userID); err != nil {
		s.log.Error().Err(err).Str("user", userID).Msg("initial archive sync failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			synced, err := s.SyncOnce(ctx, userID)
			if err != nil {
				s.log.Error().Err(err).Str("user", userID).Msg("archive sync failed")
				continue
			}
			if !synced {
				s.log.Debug().Str("user", userID).Msg("no new archive")
			}
		}
	}
}

// SyncOnce performs a single poll cycle. It reports whether a new
// archive was pulled and ingested.
func (s *Syncer) SyncOnce(ctx context.Context, userID string) (bool, error) {
	folderID, err := s.store.FindFolder(ctx, s.folderName)
	if err != nil {
		return false, err
	}

	files, err := s.store.ListFiles(ctx, folderID, archiveNamePrefix)
	if err != nil {
		return false, err
	}

	newest := newestZip(files)
	if newest == nil {
		return false, nil
	}

	s.log.Info().
		Str("user", userID).
		Str("file", newest.Name).
		Time("created", newest.CreatedTime).
		Msg("pulling archive")

	userDir, err := s.resolver.UserDir(userID)
	if err != nil {
		return false, err
	}

	zipPath := filepath.Join(userDir, newest.Name)
	if err := s.download(ctx, newest.ID, zipPath); err != nil {
		return false, err
	}
	defer os.Remove(zipPath)

	// The remote copy is removed first so a crash mid-extraction does not
	// re-download the same archive forever; the local zip is the source
	// of truth from here on.
	if err := s.store.Delete(ctx, newest.ID); err != nil {
		s.log.Warn().Err(err).Str("file", newest.Name).Msg("could not delete remote archive")
	}

	activityPath, err := s.resolver.ActivityPath(userID)
	if err != nil {
		return false, err
	}
	if err := extractActivity(zipPath, activityPath); err != nil {
		return false, err
	}

	s.log.Info().Str("user", userID).Str("file", newest.Name).Msg("archive extracted")

	if s.ingest != nil {
		if err := s.ingest(ctx, userID); err != nil {
			return true, fmt.Errorf("triggering ingestion: %w", err)
		}
	}
	return true, nil
}

func (s *Syncer) download(ctx context.Context, fileID, dest string) error {
	body, err := s.store.Download(ctx, fileID)
	if err != nil {
		return err
	}
	defer body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(dest)
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", dest, err)
	}
	return nil
}

// newestZip picks the most recently created .zip file, or nil.
func newestZip(files []File) *File {
	zips := make([]File, 0, len(files))
	for _, f := range files {
		if strings.HasSuffix(f.Name, ".zip") {
			zips = append(zips, f)
		}
	}
	if len(zips) == 0 {
		return nil
	}
	sort.Slice(zips, func(i, j int) bool {
		return zips[i].CreatedTime.After(zips[j].CreatedTime)
	})
	return &zips[0]
}

// extractActivity copies the archive member ending in the activity
// filename over dest via temp file and rename, so readers never observe
// a partially written activity file.
func extractActivity(zipPath, dest string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", zipPath, err)
	}
	defer zr.Close()

	for _, member := range zr.File {
		if !strings.HasSuffix(member.Name, userdir.ActivityFilename) {
			continue
		}
		src, err := member.Open()
		if err != nil {
			return fmt.Errorf("opening archive member %s: %w", member.Name, err)
		}
		defer src.Close()

		tmp, err := os.CreateTemp(filepath.Dir(dest), ".extract-*")
		if err != nil {
			return fmt.Errorf("creating temp file: %w", err)
		}
		if _, err := io.Copy(tmp, src); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("extracting %s: %w", member.Name, err)
		}
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("syncing temp file: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("closing temp file: %w", err)
		}
		if err := os.Rename(tmp.Name(), dest); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("replacing %s: %w", dest, err)
		}
		return nil
	}
	return fmt.Errorf("no member ending in %q in %s", userdir.ActivityFilename, zipPath)
}
