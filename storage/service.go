package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"

	"go.uber.org/zap"

	"craftworker/logger"
	"craftworker/model"
)

// ServiceClient is the HTTP storage service backend.
type ServiceClient struct {
	baseURL string
	doer    Doer
	log     *zap.Logger
}

// NewServiceClient creates a client for the storage service at baseURL.
func NewServiceClient(baseURL string, doer Doer) *ServiceClient {
	return &ServiceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		doer:    doer,
		log:     logger.Named("storage-service"),
	}
}

// FetchPart streams the bytes of podcast part id. The caller closes the body.
func (c *ServiceClient) FetchPart(ctx context.Context, id string) (io.ReadCloser, error) {
	endpoint := c.baseURL + "/v1/podcast-parts/" + url.PathEscape(id)

	resp, err := c.doer.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch part %s: %w", id, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, &StatusError{Op: "fetch part " + id, Status: resp.StatusCode, Body: readSnippet(resp.Body)}
	}
	return resp.Body, nil
}

// uploadResponse accepts both the bare and the {data: …} envelope,
// and "location" as an alias of storagePath.
type uploadResponse struct {
	model.StorageDescriptor
	Location string                   `json:"location"`
	Data     *model.StorageDescriptor `json:"data"`
}

// UploadCraft posts localPath as a multipart form with "file" and "filename" fields.
func (c *ServiceClient) UploadCraft(ctx context.Context, localPath, filename string) (model.StorageDescriptor, error) {
	endpoint := c.baseURL + "/v1/crafts"

	resp, err := c.doer.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		body, contentType, err := multipartFile(localPath, filename)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
		if err != nil {
			body.Close()
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
	if err != nil {
		return model.StorageDescriptor{}, fmt.Errorf("upload craft: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.StorageDescriptor{}, &StatusError{Op: "upload craft", Status: resp.StatusCode, Body: readSnippet(resp.Body)}
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.StorageDescriptor{}, fmt.Errorf("decode upload response: %w", err)
	}

	desc := out.StorageDescriptor
	if out.Data != nil {
		desc = *out.Data
	}
	if desc.StoragePath == "" {
		desc.StoragePath = out.Location
	}

	c.log.Info("Uploaded craft",
		zap.String("filename", filename),
		zap.String("storageType", desc.StorageType),
		zap.String("storagePath", desc.StoragePath))
	return desc, nil
}

// multipartFile streams the form through a pipe so the file is never held in memory.
func multipartFile(localPath, filename string) (io.ReadCloser, string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, "", err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		defer f.Close()
		err := func() error {
			if err := mw.WriteField("filename", filename); err != nil {
				return err
			}
			part, err := mw.CreateFormFile("file", filename)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, f); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType(), nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
