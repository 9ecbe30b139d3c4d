package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"lead-relay/metrics"
	"lead-relay/middleware"
	"lead-relay/models"
	"lead-relay/notification"
	"lead-relay/utils"
	"lead-relay/validation"
)

// DeliveryError is a transport-side failure to relay a valid submission.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return e.Err.Error()
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Options fixes the destination mailbox and how user text is embedded.
type Options struct {
	Recipient string
	BodyMode  string
}

type RelayService struct {
	transport notification.Transport
	opts      Options
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewRelayService(t notification.Transport, opts Options, logger *zap.Logger, m *metrics.Metrics) *RelayService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelayService{
		transport: t,
		opts:      opts,
		logger:    logger,
		metrics:   m,
	}
}

// Compose builds the notification for sub. The From header carries the
// submitter's own claimed identity.
func (s *RelayService) Compose(sub models.Submission) (*notification.Message, error) {
	body, err := renderBody(s.opts.BodyMode, sub)
	if err != nil {
		return nil, err
	}

	return &notification.Message{
		FromName:    sub.Name,
		FromAddress: sub.Email,
		To:          []string{s.opts.Recipient},
		Subject:     fmt.Sprintf("%s se inscreveu para receber descontos!", sub.Name),
		HTML:        body,
	}, nil
}

// Relay validates in and, when it passes, sends one notification and waits
// for the transport. It returns a *validation.ValidationError without
// touching the transport, or a *DeliveryError when sending fails.
func (s *RelayService) Relay(ctx context.Context, in models.Input) (*notification.Result, error) {
	log := s.logger.With(zap.String("request_id", middleware.RequestIDFromContext(ctx)))

	if err := validation.Validate(in); err != nil {
		var verr *validation.ValidationError
		if errors.As(err, &verr) {
			log.Debug("submission rejected", zap.String("field", verr.Field))
		}
		s.metrics.ObserveRejected()
		return nil, err
	}

	sub := models.SubmissionFromInput(in)
	log.Debug("submission received",
		zap.String("nome", sub.Name),
		zap.String("email", utils.MaskEmail(sub.Email)),
		zap.String("destination", sub.Destination),
		zap.String("quest", sub.ReferralSource))

	msg, err := s.Compose(sub)
	if err != nil {
		s.metrics.ObserveFailed()
		log.Error("failed to compose email", zap.Error(err))
		return nil, &DeliveryError{Err: err}
	}

	result, err := s.transport.Send(ctx, msg)
	if err != nil {
		s.metrics.ObserveFailed()
		log.Error("failed to send email", zap.Error(err))
		return nil, &DeliveryError{Err: err}
	}
	if result == nil {
		result = &notification.Result{}
	}

	s.metrics.ObserveSent(len(result.Accepted))
	if len(result.Accepted) > 0 {
		log.Info("email sent",
			zap.Strings("accepted", result.Accepted),
			zap.Strings("rejected", result.Rejected))
	} else {
		log.Warn("no recipient accepted the email",
			zap.Strings("rejected", result.Rejected))
	}

	return result, nil
}
