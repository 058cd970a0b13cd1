// Package catalog registers finished crafts with the catalog service.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"craftworker/core/apperr"
	"craftworker/logger"
	"craftworker/model"
)

// Doer sends a request built by build, rebuilding it when a retry is needed.
type Doer interface {
	Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error)
}

// Client talks to POST <catalog>/v1/crafts.
type Client struct {
	baseURL string
	doer    Doer
	log     *zap.Logger
}

// NewClient creates a catalog client.
func NewClient(baseURL string, doer Doer) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		doer:    doer,
		log:     logger.Named("catalog"),
	}
}

type createCraftRequest struct {
	Name            string `json:"name"`
	JobID           string `json:"jobId"`
	StorageType     string `json:"storageType"`
	StoragePath     string `json:"storagePath"`
	StorageFilename string `json:"storageFilename"`
}

type createCraftResponse struct {
	Data struct {
		ID string `json:"_id"`
	} `json:"data"`
}

// CreateCraft registers desc as the craft of jobID and returns the craft id.
// Failures are CatalogServiceError carrying the upstream status.
func (c *Client) CreateCraft(ctx context.Context, name, jobID string, desc model.StorageDescriptor) (string, error) {
	payload, err := json.Marshal(createCraftRequest{
		Name:            name,
		JobID:           jobID,
		StorageType:     desc.StorageType,
		StoragePath:     desc.StoragePath,
		StorageFilename: desc.StorageFilename,
	})
	if err != nil {
		return "", apperr.CatalogService(0, err)
	}

	endpoint := c.baseURL + "/v1/crafts"
	resp, err := c.doer.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", apperr.CatalogService(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", apperr.CatalogService(resp.StatusCode,
			fmt.Errorf("catalog answered %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var out createCraftResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.CatalogService(resp.StatusCode, fmt.Errorf("decode catalog response: %w", err))
	}
	if out.Data.ID == "" {
		return "", apperr.CatalogService(0, errors.New("catalog response carries no craft id"))
	}

	c.log.Info("Registered craft", logger.JobID(jobID), zap.String("craftId", out.Data.ID))
	return out.Data.ID, nil
}
