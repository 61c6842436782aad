package push

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"voxlink-backend/pkg/logger"
)

func init() {
	logger.InitDefault()
}

// MockTokenRepository is a mock implementation of TokenRepository
type MockTokenRepository struct {
	mock.Mock
}

func (m *MockTokenRepository) Store(ctx context.Context, token *Token) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Token), args.Error(1)
}

func (m *MockTokenRepository) GetByToken(ctx context.Context, token string) (*Token, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Token), args.Error(1)
}

func (m *MockTokenRepository) Update(ctx context.Context, token *Token) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockTokenRepository) Delete(ctx context.Context, tokenID uuid.UUID) error {
	args := m.Called(ctx, tokenID)
	return args.Error(0)
}

func (m *MockTokenRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockTokenRepository) MarkInactive(ctx context.Context, tokenID uuid.UUID) error {
	args := m.Called(ctx, tokenID)
	return args.Error(0)
}

// recordingProvider captures the payloads handed to Send
type recordingProvider struct {
	mock.Mock
}

func (p *recordingProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	args := p.Called(ctx, notification, tokens)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SendResult), args.Error(1)
}

func activeToken(userID uuid.UUID, value string) *Token {
	return &Token{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     value,
		Type:      TokenTypeFCM,
		Platform:  "android",
		Active:    true,
		CreatedAt: time.Now().Unix(),
		UpdatedAt: time.Now().Unix(),
	}
}

func TestRegisterTokenStoresNew(t *testing.T) {
	repo := new(MockTokenRepository)
	service := NewService(&MockProvider{}, repo)

	token := activeToken(uuid.New(), "device-token-1")
	repo.On("GetByToken", mock.Anything, "device-token-1").Return(nil, nil)
	repo.On("Store", mock.Anything, token).Return(nil)

	err := service.RegisterToken(context.Background(), token)

	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestRegisterTokenReactivatesExisting(t *testing.T) {
	repo := new(MockTokenRepository)
	service := NewService(&MockProvider{}, repo)

	userID := uuid.New()
	existing := activeToken(userID, "device-token-1")
	existing.Active = false

	incoming := activeToken(userID, "device-token-1")
	incoming.DeviceID = "phone-2"

	repo.On("GetByToken", mock.Anything, "device-token-1").Return(existing, nil)
	repo.On("Update", mock.Anything, mock.MatchedBy(func(tok *Token) bool {
		return tok.ID == existing.ID && tok.Active && tok.DeviceID == "phone-2"
	})).Return(nil)

	err := service.RegisterToken(context.Background(), incoming)

	assert.NoError(t, err)
	repo.AssertNotCalled(t, "Store", mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestSendIncomingCallCollectsActiveTokensOnly(t *testing.T) {
	repo := new(MockTokenRepository)
	provider := new(recordingProvider)
	service := NewService(provider, repo)

	callee := uuid.New()
	active := activeToken(callee, "tok-active")
	inactive := activeToken(callee, "tok-stale")
	inactive.Active = false

	repo.On("GetByUserID", mock.Anything, callee).Return([]*Token{active, inactive}, nil)
	provider.On("Send", mock.Anything, mock.MatchedBy(func(n *Notification) bool {
		return n.Category == "INCOMING_CALL" && n.Priority == "high" && n.Data["type"] == "call"
	}), []string{"tok-active"}).Return(&SendResult{SuccessCount: 1}, nil)

	data := &CallNotificationData{
		CallID:         uuid.New(),
		ConversationID: uuid.New(),
		CallerID:       uuid.New(),
		CallerName:     "Alice",
		CallType:       "video",
		Timestamp:      time.Now().Unix(),
	}

	err := service.SendIncomingCallNotification(context.Background(), data, []uuid.UUID{callee})

	assert.NoError(t, err)
	provider.AssertExpectations(t)
}

func TestSendWithNoTokensSkipsProvider(t *testing.T) {
	repo := new(MockTokenRepository)
	provider := new(recordingProvider)
	service := NewService(provider, repo)

	callee := uuid.New()
	repo.On("GetByUserID", mock.Anything, callee).Return([]*Token{}, nil)

	data := &CallNotificationData{CallID: uuid.New(), CallerName: "Alice"}
	err := service.SendMissedCallNotification(context.Background(), data, []uuid.UUID{callee})

	assert.NoError(t, err)
	provider.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMarksInvalidTokensInactive(t *testing.T) {
	repo := new(MockTokenRepository)
	provider := new(recordingProvider)
	service := NewService(provider, repo)

	callee := uuid.New()
	dead := activeToken(callee, "tok-dead")

	repo.On("GetByUserID", mock.Anything, callee).Return([]*Token{dead}, nil)
	provider.On("Send", mock.Anything, mock.Anything, []string{"tok-dead"}).
		Return(&SendResult{FailureCount: 1, InvalidTokens: []string{"tok-dead"}}, nil)
	repo.On("GetByToken", mock.Anything, "tok-dead").Return(dead, nil)
	repo.On("MarkInactive", mock.Anything, dead.ID).Return(nil)

	data := &CallNotificationData{CallID: uuid.New(), CallerName: "Alice"}
	err := service.SendIncomingCallNotification(context.Background(), data, []uuid.UUID{callee})

	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestSendProviderFailureSurfacesError(t *testing.T) {
	repo := new(MockTokenRepository)
	provider := new(recordingProvider)
	service := NewService(provider, repo)

	callee := uuid.New()
	repo.On("GetByUserID", mock.Anything, callee).Return([]*Token{activeToken(callee, "tok-1")}, nil)
	provider.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("upstream unavailable"))

	data := &CallNotificationData{CallID: uuid.New(), CallerName: "Alice"}
	err := service.SendIncomingCallNotification(context.Background(), data, []uuid.UUID{callee})

	assert.Error(t, err)
}

func TestUnregisterAllTokens(t *testing.T) {
	repo := new(MockTokenRepository)
	service := NewService(&MockProvider{}, repo)

	userID := uuid.New()
	repo.On("DeleteByUserID", mock.Anything, userID).Return(nil)

	err := service.UnregisterAllTokens(context.Background(), userID)

	assert.NoError(t, err)
	repo.AssertExpectations(t)
}
