package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"craftworker/core/apperr"
	"craftworker/logger"
	"craftworker/model"
	"craftworker/storage"
)

// UploadAdapter hands merged files to object storage.
type UploadAdapter struct {
	uploader storage.Uploader
	log      *zap.Logger
}

// NewUploadAdapter creates an adapter over uploader.
func NewUploadAdapter(uploader storage.Uploader) *UploadAdapter {
	return &UploadAdapter{uploader: uploader, log: logger.Named("upload")}
}

// Upload stores localPath as the craft of jobID.
func (u *UploadAdapter) Upload(ctx context.Context, localPath, jobID string) (model.StorageDescriptor, error) {
	if localPath == "" {
		return model.StorageDescriptor{}, apperr.New(apperr.KindFilePath, "File path must be a non-empty string")
	}
	if _, err := os.Stat(localPath); err != nil {
		return model.StorageDescriptor{}, apperr.Wrap(apperr.KindFileNotFound, fmt.Sprintf("File %s does not exist", localPath), err)
	}
	if jobID == "" {
		return model.StorageDescriptor{}, apperr.New(apperr.KindJobID, "Job id must be a non-empty string")
	}

	filename := jobID + filepath.Ext(localPath)
	desc, err := u.uploader.UploadCraft(ctx, localPath, filename)
	if err != nil {
		status := 0
		var se *storage.StatusError
		if errors.As(err, &se) {
			status = se.Status
		}
		u.log.Error("Upload failed", logger.JobID(jobID), zap.Int("status", status), logger.ErrorField(err))
		return model.StorageDescriptor{}, apperr.UploadService(status, err)
	}
	if desc.Empty() {
		u.log.Error("Upload returned an empty descriptor", logger.JobID(jobID))
		return model.StorageDescriptor{}, apperr.Save()
	}
	return desc, nil
}
