package service

import (
	"context"
	"encoding/json"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// HandleMessage admits a submission from the intake topic. Malformed or
// rejected payloads are acknowledged and logged; a full queue requeues the
// message when a retry topic is configured and otherwise asks for redelivery.
func (s *Service) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return nil
	}
	var payload model.SubmitMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		logger.Warn(ctx, "drop undecodable submit message", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if payload.ProblemID == "" || payload.Language == "" || payload.Code == "" {
		logger.Warn(ctx, "drop incomplete submit message", zap.String("message_id", msg.ID))
		return nil
	}

	sub, err := s.admitMessage(ctx, payload)
	switch {
	case err == nil:
		logger.Info(logger.WithSubmission(ctx, sub.ID), "submission admitted from queue", zap.String("message_id", msg.ID))
		return nil
	case appErr.Is(err, appErr.SubmissionInFlight), appErr.Is(err, appErr.RecordAlreadyExists):
		// Redelivery of a submission we already own.
		return nil
	case appErr.Is(err, appErr.QueueFull), appErr.Is(err, appErr.Timeout):
		if s.requeue.enabled() {
			return s.requeue.Requeue(ctx, msg)
		}
		return err
	case isClientError(err):
		logger.Warn(ctx, "reject submit message", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	default:
		return err
	}
}

func isClientError(err error) bool {
	switch appErr.GetCode(err) {
	case appErr.InvalidParams, appErr.ValidationFailed, appErr.ProblemNotFound,
		appErr.UnsupportedLanguage, appErr.CodeTooLarge, appErr.TestCaseInvalid, appErr.DataPackInvalid:
		return true
	}
	return false
}
