// Package message defines the merge request and result envelopes that travel
// over JetStream, and the service that pulls requests and reports results.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wehubfusion/Gorilla/pkg/slots"
	"github.com/wehubfusion/Gorilla/pkg/tree"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Workflow identifies the workflow run a request belongs to.
type Workflow struct {
	WorkflowID string `json:"workflowId"`
	RunID      string `json:"runId"`
}

// BlobReference points at a payload stored in blob storage because it was
// too large to send inline.
type BlobReference struct {
	URL       string `json:"url"`
	SizeBytes int    `json:"sizeBytes"`
}

// acker is the JetStream acknowledgment surface of a delivered message.
// *nats.Msg implements it.
type acker interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
	InProgress(opts ...nats.AckOpt) error
	Metadata() (*nats.MsgMetadata, error)
}

// MergeRequest asks a worker to merge the trees wired into an ordered merge
// node. Slots[i] is the tree wired into "Item i"; a null entry is a
// disconnected slot. When the slot list is too large to send inline it is
// stored in blob storage and SlotsBlob references it.
type MergeRequest struct {
	CorrelationID string `json:"correlationId,omitempty"`

	Workflow *Workflow `json:"workflow,omitempty"`

	NodeID string `json:"nodeId"`

	// Configuration is the node's plugin configuration
	// ({"output_mode": ..., "slots": ...}).
	Configuration json.RawMessage `json:"configuration,omitempty"`

	Slots     []*tree.DataTree `json:"slots,omitempty"`
	SlotsBlob *BlobReference   `json:"slotsBlob,omitempty"`

	// OutputMode is the value wired into the mode selector, if any. It
	// overrides the configured mode when it names a valid mode.
	OutputMode interface{} `json:"outputMode,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt string `json:"createdAt"`

	msg acker
}

// NewMergeRequest creates a request for nodeID in the given run.
func NewMergeRequest(workflowID, runID, nodeID string) *MergeRequest {
	return &MergeRequest{
		Workflow:  &Workflow{WorkflowID: workflowID, RunID: runID},
		NodeID:    nodeID,
		Metadata:  make(map[string]string),
		CreatedAt: time.Now().Format(time.RFC3339),
	}
}

// WithCorrelationID sets the correlation ID.
func (r *MergeRequest) WithCorrelationID(correlationID string) *MergeRequest {
	r.CorrelationID = correlationID
	return r
}

// WithSlots sets the slot trees in port order.
func (r *MergeRequest) WithSlots(trees ...*tree.DataTree) *MergeRequest {
	r.Slots = trees
	return r
}

// WithOutputMode sets the wired mode selector value.
func (r *MergeRequest) WithOutputMode(v interface{}) *MergeRequest {
	r.OutputMode = v
	return r
}

// WithConfiguration sets the plugin configuration.
func (r *MergeRequest) WithConfiguration(cfg json.RawMessage) *MergeRequest {
	r.Configuration = cfg
	return r
}

// WithMetadata adds a metadata entry.
func (r *MergeRequest) WithMetadata(key, value string) *MergeRequest {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = value
	return r
}

// Validate checks the envelope fields a worker needs.
func (r *MergeRequest) Validate() error {
	if r.NodeID == "" {
		return fmt.Errorf("merge request missing nodeId")
	}
	if r.Workflow == nil || r.Workflow.WorkflowID == "" || r.Workflow.RunID == "" {
		return fmt.Errorf("merge request %s missing workflow metadata", r.NodeID)
	}
	if len(r.Slots) > 0 && r.SlotsBlob != nil {
		return fmt.Errorf("merge request %s has both inline slots and a slots blob", r.NodeID)
	}
	return nil
}

// Inputs returns the request as node input values keyed by port name.
func (r *MergeRequest) Inputs() map[string]interface{} {
	inputs := make(map[string]interface{}, len(r.Slots)+1)
	for i, dt := range r.Slots {
		if dt == nil {
			inputs[slots.ItemName(i)] = nil
			continue
		}
		inputs[slots.ItemName(i)] = dt
	}
	if r.OutputMode != nil {
		inputs[slots.ModeSelectorName] = r.OutputMode
	}
	return inputs
}

// Identifier returns a short label for logs.
func (r *MergeRequest) Identifier() string {
	if r.CorrelationID != "" {
		return "correlation:" + r.CorrelationID
	}
	if r.Workflow != nil {
		return fmt.Sprintf("workflow:%s/run:%s/node:%s", r.Workflow.WorkflowID, r.Workflow.RunID, r.NodeID)
	}
	return "node:" + r.NodeID
}

// WorkflowID returns the workflow ID or "".
func (r *MergeRequest) WorkflowID() string {
	if r.Workflow == nil {
		return ""
	}
	return r.Workflow.WorkflowID
}

// RunID returns the run ID or "".
func (r *MergeRequest) RunID() string {
	if r.Workflow == nil {
		return ""
	}
	return r.Workflow.RunID
}

// ToBytes serializes the request.
func (r *MergeRequest) ToBytes() ([]byte, error) {
	return json.Marshal(r)
}

// MergeRequestFromBytes deserializes a request.
func MergeRequestFromBytes(data []byte) (*MergeRequest, error) {
	var req MergeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// MergeRequestFromNATSMsg decodes a delivered message and keeps it for
// acknowledgment.
func MergeRequestFromNATSMsg(msg *nats.Msg) (*MergeRequest, error) {
	req, err := MergeRequestFromBytes(msg.Data)
	if err != nil {
		return nil, err
	}
	if msg.Reply != "" {
		req.msg = msg
	}
	return req, nil
}

// Ack acknowledges the delivery. It is a no-op for requests that were not
// delivered by JetStream.
func (r *MergeRequest) Ack() error {
	if r.msg == nil {
		return nil
	}
	return r.msg.Ack()
}

// Nak asks JetStream to redeliver the request.
func (r *MergeRequest) Nak() error {
	if r.msg == nil {
		return nil
	}
	return r.msg.Nak()
}

// Term stops redelivery of the request.
func (r *MergeRequest) Term() error {
	if r.msg == nil {
		return nil
	}
	return r.msg.Term()
}

// InProgress extends the ack deadline.
func (r *MergeRequest) InProgress() error {
	if r.msg == nil {
		return nil
	}
	return r.msg.InProgress()
}

// NumDelivered returns how many times JetStream has delivered the request,
// 1 when unknown.
func (r *MergeRequest) NumDelivered() uint64 {
	if r.msg == nil {
		return 1
	}
	meta, err := r.msg.Metadata()
	if err != nil || meta == nil || meta.NumDelivered == 0 {
		return 1
	}
	return meta.NumDelivered
}

// MergeResult reports the outcome of one merge request.
type MergeResult struct {
	CorrelationID string `json:"correlation_id,omitempty"`

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	RunID       string `json:"run_id"`
	NodeID      string `json:"node_id"`

	Status string `json:"status"`

	// Exactly one of Merged and BlobReference is set on success.
	Merged        *tree.DataTree `json:"merged,omitempty"`
	BlobReference *BlobReference `json:"blob_reference,omitempty"`

	Error *ResultError `json:"error,omitempty"`

	PluginType      string `json:"plugin_type,omitempty"`
	ItemCount       int    `json:"item_count"`
	SkippedInputs   int    `json:"skipped_inputs,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms,omitempty"`
	ResultSize      int    `json:"result_size,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// ResultError describes a failed merge.
type ResultError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// NewMergeResult creates a result for req with the given status.
func NewMergeResult(executionID string, req *MergeRequest, status string) *MergeResult {
	return &MergeResult{
		CorrelationID: req.CorrelationID,
		ExecutionID:   executionID,
		WorkflowID:    req.WorkflowID(),
		RunID:         req.RunID(),
		NodeID:        req.NodeID,
		Status:        status,
		Timestamp:     time.Now().UTC(),
	}
}

// WithMerged sets the inline merged tree.
func (r *MergeResult) WithMerged(dt *tree.DataTree) *MergeResult {
	r.Merged = dt
	if dt != nil {
		r.ItemCount = dt.ItemCount()
	}
	return r
}

// WithError marks the result failed.
func (r *MergeResult) WithError(err *ResultError) *MergeResult {
	r.Error = err
	r.Status = StatusFailed
	r.Merged = nil
	return r
}

// ToBytes serializes the result.
func (r *MergeResult) ToBytes() ([]byte, error) {
	return json.Marshal(r)
}

// MergeResultFromBytes deserializes a result.
func MergeResultFromBytes(data []byte) (*MergeResult, error) {
	var res MergeResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// HasBlobReference reports whether the merged tree was offloaded.
func (r *MergeResult) HasBlobReference() bool {
	return r.BlobReference != nil && r.BlobReference.URL != ""
}

// IsSuccess reports a successful merge.
func (r *MergeResult) IsSuccess() bool { return r.Status == StatusSuccess }

// IsFailed reports a failed merge.
func (r *MergeResult) IsFailed() bool { return r.Status == StatusFailed }
