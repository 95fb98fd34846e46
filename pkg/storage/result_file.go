package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wehubfusion/Gorilla/pkg/tree"
)

// MergedResultMeta describes one merge execution.
type MergedResultMeta struct {
	Status          string `json:"status"` // "success" or "failed"
	NodeID          string `json:"node_id"`
	CorrelationID   string `json:"correlation_id,omitempty"`
	PluginType      string `json:"plugin_type"`
	Items           int    `json:"items"`
	SkippedInputs   int    `json:"skipped_inputs,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// MergedResultError is stored instead of a tree when the merge failed.
type MergedResultError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// MergedResult is the archived outcome of one node's merge.
type MergedResult struct {
	Meta   MergedResultMeta   `json:"_meta"`
	Error  *MergedResultError `json:"_error,omitempty"`
	Merged *tree.DataTree     `json:"merged,omitempty"`
}

// ResultFile holds every node's merged result for a run, keyed by node ID.
type ResultFile map[string]*MergedResult

// ResultFileClient keeps the per-run result file. Updates are
// read-modify-write and serialized per client.
type ResultFileClient struct {
	blobClient BlobStorageClient
	logger     *zap.Logger
	mu         sync.Mutex
}

// NewResultFileClient creates a result file client.
func NewResultFileClient(blobClient BlobStorageClient, logger *zap.Logger) *ResultFileClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultFileClient{
		blobClient: blobClient,
		logger:     logger,
	}
}

// ResultFilePath returns the blob path of a run's result file.
func ResultFilePath(workflowID, runID string) string {
	return fmt.Sprintf("results/%s/%s/merged.json", workflowID, runID)
}

// OffloadPath returns the blob path for a merged tree too large to publish
// inline.
func OffloadPath(workflowID, runID, correlationID string) string {
	return fmt.Sprintf("results/%s/%s/offload/%s.json", workflowID, runID, correlationID)
}

// SaveMerged adds or replaces nodeID's entry in the run's result file.
func (c *ResultFileClient) SaveMerged(ctx context.Context, workflowID, runID, nodeID string, result *MergedResult) (string, error) {
	if c.blobClient == nil {
		return "", fmt.Errorf("blob client not initialized")
	}
	if result == nil {
		return "", fmt.Errorf("result is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	blobPath := ResultFilePath(workflowID, runID)
	file, err := c.load(ctx, blobPath)
	if err != nil {
		if !errors.Is(err, ErrBlobNotFound) {
			c.logger.Warn("Result file unreadable, starting fresh",
				zap.String("blob_path", blobPath),
				zap.Error(err))
		}
		file = make(ResultFile)
	}
	file[nodeID] = result

	data, err := json.Marshal(file)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result file: %w", err)
	}

	blobURL, err := c.blobClient.UploadResult(ctx, blobPath, data, map[string]string{
		"workflow_id":   workflowID,
		"run_id":        runID,
		"last_node_id":  nodeID,
		"node_count":    strconv.Itoa(len(file)),
		"last_modified": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload result file: %w", err)
	}

	c.logger.Debug("Saved merged result",
		zap.String("workflow_id", workflowID),
		zap.String("run_id", runID),
		zap.String("node_id", nodeID),
		zap.Int("total_nodes", len(file)),
		zap.Int("size_bytes", len(data)))

	return blobURL, nil
}

// GetMerged returns nodeID's entry from the run's result file.
func (c *ResultFileClient) GetMerged(ctx context.Context, workflowID, runID, nodeID string) (*MergedResult, error) {
	file, err := c.GetResultFile(ctx, workflowID, runID)
	if err != nil {
		return nil, err
	}
	result, ok := file[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %s not found in result file", nodeID)
	}
	return result, nil
}

// GetResultFile downloads and parses the run's result file.
func (c *ResultFileClient) GetResultFile(ctx context.Context, workflowID, runID string) (ResultFile, error) {
	if c.blobClient == nil {
		return nil, fmt.Errorf("blob client not initialized")
	}
	return c.load(ctx, ResultFilePath(workflowID, runID))
}

func (c *ResultFileClient) load(ctx context.Context, blobPath string) (ResultFile, error) {
	data, err := c.blobClient.DownloadResult(ctx, blobPath)
	if err != nil {
		return nil, err
	}
	var file ResultFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse result file: %w", err)
	}
	if file == nil {
		file = make(ResultFile)
	}
	return file, nil
}
