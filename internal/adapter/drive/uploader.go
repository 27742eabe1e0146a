// Package drive uploads job archives to Google Drive.
package drive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/cwygoda/haul/internal/domain"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Uploader implements domain.Uploader against the Drive v3 API.
type Uploader struct {
	svc *drive.Service
	log *zap.Logger
}

// New builds an uploader authenticated from tokenFile. A missing or
// unreadable token file is an error.
func New(ctx context.Context, tokenFile string, log *zap.Logger, opts ...option.ClientOption) (*Uploader, error) {
	ts, err := TokenSource(ctx, tokenFile)
	if err != nil {
		return nil, err
	}
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	return NewWithOptions(ctx, log, opts...)
}

// NewWithOptions builds an uploader from raw client options.
func NewWithOptions(ctx context.Context, log *zap.Logger, opts ...option.ClientOption) (*Uploader, error) {
	if log == nil {
		log = zap.NewNop()
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Uploader{svc: svc, log: log}, nil
}

func (u *Uploader) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	folder := &drive.File{Name: name, MimeType: folderMimeType}
	if parentID != "" {
		folder.Parents = []string{parentID}
	}
	f, err := u.svc.Files.Create(folder).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create folder %q: %w", name, err)
	}
	u.log.Info("drive folder created", zap.String("folder_id", f.Id), zap.String("name", name))
	return f.Id, nil
}

func (u *Uploader) UploadFile(ctx context.Context, path, parentID string) (*domain.UploadedFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	meta := &drive.File{Name: filepath.Base(path)}
	if parentID != "" {
		meta.Parents = []string{parentID}
	}
	f, err := u.svc.Files.Create(meta).
		Media(file, googleapi.ContentType("application/zip")).
		Fields("id", "webViewLink", "webContentLink").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	u.log.Info("drive file uploaded", zap.String("file_id", f.Id), zap.String("name", meta.Name))
	return &domain.UploadedFile{ID: f.Id, ViewLink: f.WebViewLink, DownloadLink: f.WebContentLink}, nil
}

// GrantPublicRead adds an anyone-with-the-link reader permission. A grant
// that already exists counts as success.
func (u *Uploader) GrantPublicRead(ctx context.Context, fileID string) (*domain.Links, error) {
	perm := &drive.Permission{Role: "reader", Type: "anyone"}
	_, err := u.svc.Permissions.Create(fileID, perm).Context(ctx).Do()
	if err != nil && !alreadyGranted(err) {
		return nil, fmt.Errorf("share %s: %w", fileID, err)
	}

	f, err := u.svc.Files.Get(fileID).Fields("webViewLink", "webContentLink").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("fetch links for %s: %w", fileID, err)
	}
	return &domain.Links{ViewLink: f.WebViewLink, DownloadLink: f.WebContentLink}, nil
}

func alreadyGranted(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	if gerr.Code == http.StatusConflict {
		return true
	}
	for _, item := range gerr.Errors {
		reason := strings.ToLower(item.Reason)
		if strings.Contains(reason, "alreadyexists") || strings.Contains(reason, "duplicate") {
			return true
		}
	}
	return false
}
