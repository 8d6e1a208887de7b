// Package drive syncs exported activity archives from a remote Drive
// folder into per-user namespaces.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrFolderNotFound is returned when the configured archive folder does
// not exist in the remote store.
var ErrFolderNotFound = errors.New("archive folder not found")

const folderMimeType = "application/vnd.google-apps.folder"

// File describes one remote archive file.
type File struct {
	ID          string
	Name        string
	CreatedTime time.Time
	Size        int64
}

// ArchiveStore is the remote archive capability.
type ArchiveStore interface {
	// FindFolder resolves a folder name to its identifier.
	FindFolder(ctx context.Context, name string) (string, error)

	// ListFiles returns files in the folder whose name contains nameFilter.
	ListFiles(ctx context.Context, folderID, nameFilter string) ([]File, error)

	// Download streams the content of one file.
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)

	// Delete removes one file from the remote store.
	Delete(ctx context.Context, fileID string) error
}

// DriveStore implements ArchiveStore against the Drive v3 API.
type DriveStore struct {
	svc *drive.Service
}

// NewDriveStore creates a store using the given authenticated HTTP client.
func NewDriveStore(ctx context.Context, client *http.Client) (*DriveStore, error) {
	svc, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}
	return &DriveStore{svc: svc}, nil
}

// FindFolder resolves the first folder matching name.
func (d *DriveStore) FindFolder(ctx context.Context, name string) (string, error) {
	query := fmt.Sprintf("mimeType='%s' and name='%s' and trashed=false", folderMimeType, name)
	res, err := d.svc.Files.List().
		Q(query).
		Spaces("drive").
		Fields("files(id, name)").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("listing folders: %w", err)
	}
	if len(res.Files) == 0 {
		return "", fmt.Errorf("%w: %q", ErrFolderNotFound, name)
	}
	return res.Files[0].Id, nil
}

// ListFiles returns the folder's files whose name contains nameFilter.
func (d *DriveStore) ListFiles(ctx context.Context, folderID, nameFilter string) ([]File, error) {
	query := fmt.Sprintf("'%s' in parents and name contains '%s' and trashed=false", folderID, nameFilter)
	res, err := d.svc.Files.List().
		Q(query).
		Spaces("drive").
		Fields("files(id, name, mimeType, createdTime, size)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	files := make([]File, 0, len(res.Files))
	for _, f := range res.Files {
		created, err := time.Parse(time.RFC3339, f.CreatedTime)
		if err != nil {
			created = time.Time{}
		}
		files = append(files, File{
			ID:          f.Id,
			Name:        f.Name,
			CreatedTime: created,
			Size:        f.Size,
		})
	}
	return files, nil
}

// Download streams the file's content. The caller closes the reader.
func (d *DriveStore) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := d.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("downloading file %s: %w", fileID, err)
	}
	return resp.Body, nil
}

// Delete removes the file. A 404 is treated as already deleted.
func (d *DriveStore) Delete(ctx context.Context, fileID string) error {
	err := d.svc.Files.Delete(fileID).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("deleting file %s: %w", fileID, err)
	}
	return nil
}
