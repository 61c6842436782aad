package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voxlink-backend/internal/domain"
	"voxlink-backend/pkg/logger"
	"voxlink-backend/pkg/metrics"
	"voxlink-backend/pkg/push"
)

// Service bridges the signaling coordinator to the push pipeline. It
// implements signaling.PushNotifier: the coordinator calls it from
// short-lived goroutines for invitees without an open connection.
type Service struct {
	push    *push.Service
	metrics *metrics.Metrics
}

// NewService creates a new call notification service. m may be nil.
func NewService(pushService *push.Service, m *metrics.Metrics) *Service {
	return &Service{push: pushService, metrics: m}
}

// CallIncoming wakes offline devices of the given invitees for a ringing call
func (s *Service) CallIncoming(ctx context.Context, sess *domain.CallSession, calleeIDs []uuid.UUID) {
	if len(calleeIDs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := s.push.SendIncomingCallNotification(ctx, callData(sess), calleeIDs)
	s.record("incoming_call", err)
	if err != nil {
		logger.Warn("Failed to send incoming call push",
			zap.String("call_id", sess.CallID.String()),
			zap.Int("callee_count", len(calleeIDs)),
			zap.Error(err))
	}
}

// CallMissed tells invitees their ring window expired without an answer
func (s *Service) CallMissed(ctx context.Context, sess *domain.CallSession, calleeIDs []uuid.UUID) {
	if len(calleeIDs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := s.push.SendMissedCallNotification(ctx, callData(sess), calleeIDs)
	s.record("missed_call", err)
	if err != nil {
		logger.Warn("Failed to send missed call push",
			zap.String("call_id", sess.CallID.String()),
			zap.Int("callee_count", len(calleeIDs)),
			zap.Error(err))
	}
}

func (s *Service) record(kind string, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordPush(kind, status)
}

func callData(sess *domain.CallSession) *push.CallNotificationData {
	return &push.CallNotificationData{
		CallID:         sess.CallID,
		ConversationID: sess.ConversationID,
		CallerID:       sess.InitiatorID,
		CallerName:     sess.InitiatorName,
		CallType:       string(sess.CallType),
		Timestamp:      sess.StartedAt.Unix(),
	}
}
