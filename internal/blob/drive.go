package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DriveStore keeps blobs in a Google Drive folder. Object keys are Drive
// file IDs.
type DriveStore struct {
	files    *drive.FilesService
	perms    *drive.PermissionsService
	folderID string
}

func NewDriveStore(ctx context.Context, credentialsFile, folderID string, opts ...option.ClientOption) (*DriveStore, error) {
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	opts = append(opts, option.WithScopes(drive.DriveFileScope))
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &DriveStore{files: svc.Files, perms: svc.Permissions, folderID: folderID}, nil
}

func (s *DriveStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) (Object, error) {
	meta := &drive.File{Name: path.Base(key), MimeType: contentType}
	if s.folderID != "" {
		meta.Parents = []string{s.folderID}
	}
	f, err := s.files.Create(meta).
		Media(r, googleapi.ContentType(contentType)).
		Fields("id, webContentLink").
		Context(ctx).
		Do()
	if err != nil {
		return Object{}, fmt.Errorf("drive upload: %w", err)
	}
	// 公开只读，供客户端直接拉取
	if _, err := s.perms.Create(f.Id, &drive.Permission{Type: "anyone", Role: "reader"}).Context(ctx).Do(); err != nil {
		_ = s.files.Delete(f.Id).Context(ctx).Do()
		return Object{}, fmt.Errorf("drive share: %w", err)
	}
	url := f.WebContentLink
	if url == "" {
		url = "https://drive.google.com/uc?export=view&id=" + f.Id
	}
	return Object{Key: f.Id, URL: url}, nil
}

func (s *DriveStore) Remove(ctx context.Context, keys []string) error {
	var errs []error
	for _, id := range keys {
		err := s.files.Delete(id).Context(ctx).Do()
		var gerr *googleapi.Error
		if err != nil && !(errors.As(err, &gerr) && gerr.Code == 404) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
