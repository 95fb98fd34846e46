package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	gerrors "github.com/wehubfusion/Gorilla/pkg/errors"
	"github.com/wehubfusion/Gorilla/pkg/storage"
	"github.com/wehubfusion/Gorilla/pkg/tree"
)

// JSContext is the subset of JetStream the service uses, so tests can run
// without a NATS server.
type JSContext interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	PullSubscribe(subj, durable string, opts ...nats.SubOpt) (JSSubscription, error)
	StreamInfo(stream string) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig) (*nats.StreamInfo, error)
	ConsumerInfo(stream, consumer string) (*nats.ConsumerInfo, error)
	AddConsumer(stream string, cfg *nats.ConsumerConfig) (*nats.ConsumerInfo, error)
}

// JSSubscription is the subset of a pull subscription the service uses.
type JSSubscription interface {
	Unsubscribe() error
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
}

// WrapNATSJetStream adapts a nats.JetStreamContext to JSContext.
func WrapNATSJetStream(js nats.JetStreamContext) JSContext {
	return &natsJSAdapter{js: js}
}

type natsJSAdapter struct {
	js nats.JetStreamContext
}

func (a *natsJSAdapter) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	return a.js.Publish(subj, data, opts...)
}

func (a *natsJSAdapter) PullSubscribe(subj, durable string, opts ...nats.SubOpt) (JSSubscription, error) {
	sub, err := a.js.PullSubscribe(subj, durable, opts...)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (a *natsJSAdapter) StreamInfo(stream string) (*nats.StreamInfo, error) {
	return a.js.StreamInfo(stream)
}

func (a *natsJSAdapter) AddStream(cfg *nats.StreamConfig) (*nats.StreamInfo, error) {
	return a.js.AddStream(cfg)
}

func (a *natsJSAdapter) ConsumerInfo(stream, consumer string) (*nats.ConsumerInfo, error) {
	return a.js.ConsumerInfo(stream, consumer)
}

func (a *natsJSAdapter) AddConsumer(stream string, cfg *nats.ConsumerConfig) (*nats.ConsumerInfo, error) {
	return a.js.AddConsumer(stream, cfg)
}

// MaxInlineResultSize is the largest merged tree published inline. Larger
// trees go to blob storage.
const MaxInlineResultSize = 1536 * 1024

// ServiceConfig configures a MessageService.
type ServiceConfig struct {
	// MaxDeliver is the consumer's delivery limit. Retryable failures are
	// redelivered until it is reached.
	MaxDeliver int

	// PublishMaxRetries is how many times a result publish is attempted.
	PublishMaxRetries int

	// RetryBackoff is the base delay between publish attempts.
	RetryBackoff time.Duration

	// ResultStream and ResultSubject are where results are published.
	ResultStream  string
	ResultSubject string

	// FetchTimeout bounds one pull when the context has no earlier deadline.
	FetchTimeout time.Duration

	// MaxInlineSize overrides MaxInlineResultSize when positive.
	MaxInlineSize int
}

// DefaultServiceConfig returns the production defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxDeliver:        5,
		PublishMaxRetries: 3,
		RetryBackoff:      time.Second,
		ResultStream:      "MERGE_RESULTS",
		ResultSubject:     "MERGE_RESULTS.merged",
		FetchTimeout:      3 * time.Second,
		MaxInlineSize:     MaxInlineResultSize,
	}
}

// Validate fills zero values with defaults and rejects negative ones.
func (c *ServiceConfig) Validate() error {
	def := DefaultServiceConfig()
	if c.MaxDeliver < 0 || c.PublishMaxRetries < 0 || c.RetryBackoff < 0 || c.FetchTimeout < 0 || c.MaxInlineSize < 0 {
		return gerrors.NewValidationError("service config values cannot be negative", nil)
	}
	if c.MaxDeliver == 0 {
		c.MaxDeliver = def.MaxDeliver
	}
	if c.PublishMaxRetries == 0 {
		c.PublishMaxRetries = def.PublishMaxRetries
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = def.RetryBackoff
	}
	if c.ResultStream == "" {
		c.ResultStream = def.ResultStream
	}
	if c.ResultSubject == "" {
		c.ResultSubject = def.ResultSubject
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = def.FetchTimeout
	}
	if c.MaxInlineSize == 0 {
		c.MaxInlineSize = def.MaxInlineSize
	}
	return nil
}

// MessageService pulls merge requests from JetStream and publishes results.
// Requests are never acknowledged implicitly: ReportSuccess and ReportError
// settle the delivery.
type MessageService struct {
	js          JSContext
	logger      *zap.Logger
	cfg         ServiceConfig
	blobStorage storage.BlobStorageClient
}

// NewMessageService creates a service over js.
func NewMessageService(js JSContext, cfg ServiceConfig, logger *zap.Logger) (*MessageService, error) {
	if js == nil {
		return nil, gerrors.NewValidationError("JetStream context cannot be nil", gerrors.ErrNotConnected)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageService{js: js, logger: logger, cfg: cfg}, nil
}

// SetBlobStorage enables offloading large trees and loading offloaded
// request slots.
func (s *MessageService) SetBlobStorage(bs storage.BlobStorageClient) {
	s.blobStorage = bs
}

// Config returns the validated configuration.
func (s *MessageService) Config() ServiceConfig {
	return s.cfg
}

// EnsureStream creates streamName with the given subjects when it does not
// exist. With no subjects the stream takes "<stream>.>".
func (s *MessageService) EnsureStream(streamName string, subjects ...string) error {
	info, err := s.js.StreamInfo(streamName)
	if err == nil {
		s.logger.Debug("JetStream stream already exists",
			zap.String("stream", streamName),
			zap.Uint64("messages", info.State.Msgs))
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info for '%s': %w", streamName, err)
	}

	if len(subjects) == 0 {
		subjects = []string{streamName + ".>"}
	}
	streamConfig := &nats.StreamConfig{
		Name:     streamName,
		Subjects: subjects,
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
		MaxMsgs:  100000,
		Replicas: 1,
	}
	if _, err := s.js.AddStream(streamConfig); err != nil {
		return fmt.Errorf("failed to create stream '%s': %w", streamName, err)
	}

	s.logger.Info("Created JetStream stream",
		zap.String("stream", streamName),
		zap.Strings("subjects", subjects))
	return nil
}

// EnsureConsumer creates a durable pull consumer when it does not exist.
func (s *MessageService) EnsureConsumer(streamName, consumerName, filterSubject string) error {
	info, err := s.js.ConsumerInfo(streamName, consumerName)
	if err == nil {
		s.logger.Debug("JetStream consumer already exists",
			zap.String("stream", streamName),
			zap.String("consumer", consumerName),
			zap.Uint64("pending", info.NumPending))
		return nil
	}
	if !errors.Is(err, nats.ErrConsumerNotFound) {
		return fmt.Errorf("failed to get consumer info for '%s' in stream '%s': %w", consumerName, streamName, err)
	}

	consumerConfig := &nats.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     nats.AckExplicitPolicy,
		DeliverPolicy: nats.DeliverAllPolicy,
		FilterSubject: filterSubject,
		MaxAckPending: 1000,
		MaxDeliver:    s.cfg.MaxDeliver,
	}
	if _, err := s.js.AddConsumer(streamName, consumerConfig); err != nil {
		return fmt.Errorf("failed to create consumer '%s' in stream '%s': %w", consumerName, streamName, err)
	}

	s.logger.Info("Created JetStream consumer",
		zap.String("stream", streamName),
		zap.String("consumer", consumerName),
		zap.Int("max_deliver", s.cfg.MaxDeliver))
	return nil
}

// streamForSubject returns the stream that should carry subject: the
// result stream for the result subject, otherwise the first token.
func (s *MessageService) streamForSubject(subject string) (string, []string) {
	if subject == s.cfg.ResultSubject {
		return s.cfg.ResultStream, []string{subject, subject + ".>"}
	}
	name, _, _ := strings.Cut(subject, ".")
	return name, nil
}

// PublishRequest publishes a merge request to subject.
func (s *MessageService) PublishRequest(ctx context.Context, subject string, req *MergeRequest) error {
	if subject == "" {
		return gerrors.NewValidationError("subject cannot be empty", gerrors.ErrInvalidMessage)
	}
	if req == nil {
		return gerrors.NewValidationError("request cannot be nil", gerrors.ErrInvalidMessage)
	}
	if err := req.Validate(); err != nil {
		return gerrors.NewValidationError(err.Error(), gerrors.ErrInvalidMessage)
	}

	stream, subjects := s.streamForSubject(subject)
	if err := s.EnsureStream(stream, subjects...); err != nil {
		return gerrors.NewInternalError("failed to ensure stream exists", err)
	}

	data, err := req.ToBytes()
	if err != nil {
		return gerrors.NewInternalError("failed to marshal request", err)
	}
	if err := s.publish(ctx, subject, data); err != nil {
		return err
	}

	s.logger.Debug("Published merge request",
		zap.String("subject", subject),
		zap.String("request", req.Identifier()))
	return nil
}

func (s *MessageService) publish(ctx context.Context, subject string, data []byte) error {
	resultCh := make(chan error, 1)
	go func() {
		_, err := s.js.Publish(subject, data)
		resultCh <- err
	}()

	select {
	case <-ctx.Done():
		return gerrors.NewError(gerrors.Code(ctx.Err()), "publish cancelled", ctx.Err())
	case err := <-resultCh:
		if err != nil {
			return gerrors.NewError(gerrors.CodeNetwork, "failed to publish to JetStream",
				fmt.Errorf("%w: %v", gerrors.ErrPublishFailed, err))
		}
		return nil
	}
}

// PullRequests fetches up to batchSize requests from a durable consumer. It
// returns an empty slice when nothing arrives before the fetch timeout.
// Undecodable messages are terminated since redelivery cannot fix them.
func (s *MessageService) PullRequests(ctx context.Context, stream, consumer string, batchSize int) ([]*MergeRequest, error) {
	if stream == "" || consumer == "" {
		return nil, gerrors.NewValidationError("stream and consumer names are required", nil)
	}
	if batchSize <= 0 {
		batchSize = 10
	}

	type result struct {
		reqs []*MergeRequest
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		sub, err := s.js.PullSubscribe("", consumer, nats.Bind(stream, consumer))
		if err != nil {
			if errors.Is(err, nats.ErrConsumerNotFound) {
				err = fmt.Errorf("%w: %v", gerrors.ErrConsumerNotFound, err)
			}
			resultCh <- result{err: err}
			return
		}
		defer sub.Unsubscribe()

		timeout := s.cfg.FetchTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
				timeout = remaining
			}
		}

		msgs, err := sub.Fetch(batchSize, nats.MaxWait(timeout))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				resultCh <- result{reqs: []*MergeRequest{}}
				return
			}
			resultCh <- result{err: err}
			return
		}

		reqs := make([]*MergeRequest, 0, len(msgs))
		for _, m := range msgs {
			req, err := MergeRequestFromNATSMsg(m)
			if err != nil {
				s.logger.Warn("Terminating undecodable merge request",
					zap.String("subject", m.Subject),
					zap.Error(err))
				if m.Reply != "" {
					_ = m.Term()
				}
				continue
			}
			reqs = append(reqs, req)
		}
		resultCh <- result{reqs: reqs}
	}()

	select {
	case <-ctx.Done():
		return nil, gerrors.NewError(gerrors.Code(ctx.Err()), "pull cancelled", ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			s.logger.Error("Failed to pull merge requests",
				zap.String("stream", stream),
				zap.String("consumer", consumer),
				zap.Error(res.err))
			return nil, gerrors.NewError(gerrors.Code(res.err), "failed to pull from JetStream", res.err)
		}
		return res.reqs, nil
	}
}

// LoadSlots replaces an offloaded slot list with the trees from blob
// storage. Requests with inline slots are left alone.
func (s *MessageService) LoadSlots(ctx context.Context, req *MergeRequest) error {
	if req.SlotsBlob == nil {
		return nil
	}
	if s.blobStorage == nil {
		return gerrors.NewInternalError("blob storage not configured for offloaded slots", nil)
	}

	data, err := s.blobStorage.DownloadResult(ctx, req.SlotsBlob.URL)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return gerrors.NewNotFoundError("offloaded slots not found", err)
		}
		return gerrors.NewError(gerrors.CodeNetwork, "failed to download offloaded slots", err)
	}

	var trees []*tree.DataTree
	if err := json.Unmarshal(data, &trees); err != nil {
		return gerrors.NewValidationError("offloaded slots are not a tree list", err)
	}
	req.Slots = trees
	req.SlotsBlob = nil
	return nil
}

// PublishResult publishes res to the result subject, retrying with a
// linear backoff.
func (s *MessageService) PublishResult(ctx context.Context, res *MergeResult) error {
	if res == nil {
		return gerrors.NewValidationError("result cannot be nil", gerrors.ErrInvalidMessage)
	}

	stream, subjects := s.streamForSubject(s.cfg.ResultSubject)
	if err := s.EnsureStream(stream, subjects...); err != nil {
		return gerrors.NewInternalError("failed to ensure result stream exists", err)
	}

	data, err := res.ToBytes()
	if err != nil {
		return gerrors.NewInternalError("failed to marshal result", err)
	}

	var publishErr error
	for attempt := 1; attempt <= s.cfg.PublishMaxRetries; attempt++ {
		publishErr = s.publish(ctx, s.cfg.ResultSubject, data)
		if publishErr == nil {
			break
		}
		if ctx.Err() != nil || attempt == s.cfg.PublishMaxRetries {
			break
		}
		s.logger.Warn("Failed to publish result, retrying",
			zap.String("execution_id", res.ExecutionID),
			zap.Int("attempt", attempt),
			zap.Error(publishErr))
		select {
		case <-time.After(time.Duration(attempt) * s.cfg.RetryBackoff):
		case <-ctx.Done():
		}
	}
	if publishErr != nil {
		s.logger.Error("Failed to publish result",
			zap.String("execution_id", res.ExecutionID),
			zap.String("node_id", res.NodeID),
			zap.Error(publishErr))
		return publishErr
	}

	s.logger.Info("Published merge result",
		zap.String("execution_id", res.ExecutionID),
		zap.String("workflow_id", res.WorkflowID),
		zap.String("node_id", res.NodeID),
		zap.String("status", res.Status),
		zap.Bool("offloaded", res.HasBlobReference()))
	return nil
}

// ReportSuccess publishes a successful result and acknowledges req. Trees
// whose encoding exceeds the inline limit are uploaded to blob storage and
// referenced instead. On failure the request is nak'd for redelivery.
func (s *MessageService) ReportSuccess(ctx context.Context, req *MergeRequest, res *MergeResult) error {
	if req == nil || res == nil {
		return gerrors.NewValidationError("request and result are required", gerrors.ErrInvalidMessage)
	}
	res.Status = StatusSuccess

	if res.Merged != nil {
		encoded, err := json.Marshal(res.Merged)
		if err != nil {
			_ = req.Nak()
			return gerrors.NewInternalError("failed to marshal merged tree", err)
		}
		res.ResultSize = len(encoded)

		if len(encoded) > s.cfg.MaxInlineSize {
			ref, err := s.offload(ctx, req, res, encoded)
			if err != nil {
				_ = req.Nak()
				return err
			}
			res.Merged = nil
			res.BlobReference = ref
		}
	}

	if err := s.PublishResult(ctx, res); err != nil {
		_ = req.Nak()
		return err
	}
	if err := req.Ack(); err != nil {
		return gerrors.NewError(gerrors.CodeNetwork, "failed to acknowledge request", err)
	}
	return nil
}

func (s *MessageService) offload(ctx context.Context, req *MergeRequest, res *MergeResult, encoded []byte) (*BlobReference, error) {
	if s.blobStorage == nil {
		return nil, gerrors.NewInternalError(
			fmt.Sprintf("blob storage not configured but merged tree is %d bytes", len(encoded)), nil)
	}

	blobPath := storage.OffloadPath(res.WorkflowID, res.RunID, res.ExecutionID)
	url, err := s.blobStorage.UploadResult(ctx, blobPath, encoded, map[string]string{
		"workflow_id":  res.WorkflowID,
		"run_id":       res.RunID,
		"execution_id": res.ExecutionID,
		"node_id":      res.NodeID,
	})
	if err != nil {
		return nil, gerrors.NewError(gerrors.CodeNetwork, "failed to offload merged tree", err)
	}

	s.logger.Info("Offloaded merged tree",
		zap.String("request", req.Identifier()),
		zap.String("blob_url", url),
		zap.Int("size_bytes", len(encoded)))
	return &BlobReference{URL: url, SizeBytes: len(encoded)}, nil
}

// ReportError settles a failed request. Retryable failures with deliveries
// left are nak'd without publishing so the redelivery can still succeed.
// Everything else is published as a failed result and acknowledged.
func (s *MessageService) ReportError(ctx context.Context, req *MergeRequest, executionID string, cause error) error {
	if req == nil || cause == nil {
		return gerrors.NewValidationError("request and error are required", gerrors.ErrInvalidMessage)
	}

	retryable := gerrors.IsRetryable(cause)
	delivered := req.NumDelivered()
	if retryable && delivered < uint64(s.cfg.MaxDeliver) {
		s.logger.Warn("Merge failed, requesting redelivery",
			zap.String("request", req.Identifier()),
			zap.Uint64("delivered", delivered),
			zap.Int("max_deliver", s.cfg.MaxDeliver),
			zap.Error(cause))
		return req.Nak()
	}

	res := NewMergeResult(executionID, req, StatusFailed).WithError(&ResultError{
		Code:      gerrors.Code(cause),
		Message:   cause.Error(),
		Retryable: retryable,
	})
	if err := s.PublishResult(ctx, res); err != nil {
		_ = req.Nak()
		return fmt.Errorf("failed to publish error result: %w", err)
	}
	return req.Ack()
}
