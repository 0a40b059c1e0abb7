package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medoxie/gateway/adapters/store"
	"github.com/medoxie/gateway/core"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type TokenManagerSuite struct {
	suite.Suite
	ctx     context.Context
	clock   *fakeClock
	store   *store.MemoryStore
	oauth   *MockOAuthClient
	events  *MockEventPublisher
	manager *TokenManager
}

func (s *TokenManagerSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	s.store = store.NewMemoryStoreWithClock(s.clock.Now)
	s.oauth = new(MockOAuthClient)
	s.events = new(MockEventPublisher)
	s.manager = NewTokenManager(s.store, s.oauth, s.events, zap.NewNop(), 30*time.Second)
	s.manager.now = s.clock.Now
}

func (s *TokenManagerSuite) TearDownTest() {
	s.oauth.AssertExpectations(s.T())
	s.events.AssertExpectations(s.T())
}

func TestTokenManagerSuite(t *testing.T) {
	suite.Run(t, new(TokenManagerSuite))
}

func (s *TokenManagerSuite) bundle(access, refresh string, expiresIn time.Duration) core.TokenBundle {
	return core.TokenBundle{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    s.clock.Now().Add(expiresIn).UnixMilli(),
		Scope:        "user.metrics,user.activity,user.sleepevents",
	}
}

func (s *TokenManagerSuite) stored(userID string) core.TokenBundle {
	bundle, found, err := s.manager.GetTokens(s.ctx, userID)
	s.Require().NoError(err)
	s.Require().True(found)
	return bundle
}

func (s *TokenManagerSuite) TestEnsureTokensNotConnected() {
	status, err := s.manager.EnsureTokens(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(core.TokenStatus{Kind: core.StatusNotConnected}, status)
}

func (s *TokenManagerSuite) TestEnsureTokensFreshBundleIsReturnedUnchanged() {
	bundle := s.bundle("access-1", "refresh-1", 31*time.Second)
	s.Require().NoError(s.manager.SaveTokens(s.ctx, "u1", bundle))

	status, err := s.manager.EnsureTokens(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(core.StatusOK, status.Kind)
	s.Equal(bundle, status.Tokens)
	s.oauth.AssertNotCalled(s.T(), "Refresh", mock.Anything, mock.Anything)
}

func (s *TokenManagerSuite) TestEnsureTokensRefreshesNearExpiry() {
	s.Require().NoError(s.manager.SaveTokens(s.ctx, "u1", s.bundle("access-1", "refresh-1", time.Second)))
	refreshed := s.bundle("access-2", "refresh-2", 3*time.Hour)
	s.oauth.On("Refresh", mock.Anything, "refresh-1").Return(refreshed, nil).Once()

	status, err := s.manager.EnsureTokens(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(core.StatusOK, status.Kind)
	s.Equal(refreshed, status.Tokens)
	s.Equal(refreshed, s.stored("u1"))
}

func (s *TokenManagerSuite) TestEnsureTokensFailedRefreshKeepsStoredBundle() {
	original := s.bundle("access-1", "refresh-1", -time.Minute)
	s.Require().NoError(s.manager.SaveTokens(s.ctx, "u1", original))
	s.oauth.On("Refresh", mock.Anything, "refresh-1").
		Return(core.TokenBundle{}, &core.ProviderError{Status: 503, Message: "invalid refresh_token"}).Once()
	s.events.On("PublishReauthRequired", mock.Anything, "u1").Return(nil).Once()

	status, err := s.manager.EnsureTokens(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(core.TokenStatus{Kind: core.StatusReauthRequired}, status)
	s.Equal(original, s.stored("u1"))
}

func (s *TokenManagerSuite) TestEnsureTokensMalformedRecordRequiresReauth() {
	s.Require().NoError(s.store.Set(s.ctx, tokenKeyPrefix+"u1", `{"access_token":"a"}`, 0))
	s.events.On("PublishReauthRequired", mock.Anything, "u1").Return(errors.New("stream down")).Once()

	status, err := s.manager.EnsureTokens(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(core.StatusReauthRequired, status.Kind)
}

func (s *TokenManagerSuite) TestTokensAreIsolatedPerUser() {
	s.Require().NoError(s.manager.SaveTokens(s.ctx, "0xprofile-a", s.bundle("access-a", "refresh-a", time.Hour)))
	s.Require().NoError(s.manager.SaveTokens(s.ctx, "0xprofile-b", s.bundle("access-b", "refresh-b", time.Hour)))

	status, err := s.manager.EnsureTokens(s.ctx, "0xprofile-b")
	s.Require().NoError(err)
	s.Equal("access-b", status.Tokens.AccessToken)
}

func (s *TokenManagerSuite) TestConnectStoresBundleAndPublishes() {
	bundle := s.bundle("access-1", "refresh-1", 3*time.Hour)
	s.oauth.On("ExchangeCode", mock.Anything, "code-1").Return(bundle, nil).Once()
	s.events.On("PublishConnected", mock.Anything, "u1").Return(nil).Once()

	s.Require().NoError(s.manager.Connect(s.ctx, "u1", "code-1"))
	s.Equal(bundle, s.stored("u1"))
}

func (s *TokenManagerSuite) TestConnectExchangeFailureStoresNothing() {
	s.oauth.On("ExchangeCode", mock.Anything, "bad").
		Return(core.TokenBundle{}, &core.ProviderError{Status: 503, Code: "invalid_grant"}).Once()

	s.Error(s.manager.Connect(s.ctx, "u1", "bad"))
	_, found, err := s.manager.GetTokens(s.ctx, "u1")
	s.NoError(err)
	s.False(found)
}

func (s *TokenManagerSuite) TestRefresh() {
	status, err := s.manager.Refresh(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(core.StatusNotConnected, status.Kind)

	s.Require().NoError(s.manager.SaveTokens(s.ctx, "u1", s.bundle("access-1", "refresh-1", time.Hour)))
	refreshed := s.bundle("access-2", "refresh-2", 3*time.Hour)
	s.oauth.On("Refresh", mock.Anything, "refresh-1").Return(refreshed, nil).Once()

	status, err = s.manager.Refresh(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(refreshed, status.Tokens)
}

func (s *TokenManagerSuite) TestRequestWithRetryNotConnectedSkipsRequest() {
	calls := 0
	_, status, err := RequestWithRetry(s.ctx, s.manager, "u1", func(ctx context.Context, token string) (string, error) {
		calls++
		return "data", nil
	})

	s.Require().NoError(err)
	s.Equal(core.StatusNotConnected, status.Kind)
	s.Zero(calls)
}

func (s *TokenManagerSuite) TestRequestWithRetrySuccess() {
	s.Require().NoError(s.manager.SaveTokens(s.ctx, "u1", s.bundle("access-1", "refresh-1", time.Hour)))

	var seen []string
	result, status, err := RequestWithRetry(s.ctx, s.manager, "u1", func(ctx context.Context, token string) (string, error) {
		seen = append(seen, token)
		return "data", nil
	})

	s.Require().NoError(err)
	s.True(status.OK())
	s.Equal("data", result)
	s.Equal([]string{"access-1"}, seen)
}

func (s *TokenManagerSuite) TestRequestWithRetryRefreshesOnceAfterUnauthorized() {
	s.Require().NoError(s.manager.SaveTokens(s.ctx, "u1", s.bundle("access-1", "refresh-1", time.Hour)))
	refreshed := s.bundle("access-2", "refresh-2", 3*time.Hour)
	s.oauth.On("Refresh", mock.Anything, "refresh-1").Return(refreshed, nil).Once()

	var seen []string
	result, status, err := RequestWithRetry(s.ctx, s.manager, "u1", func(ctx context.Context, token string) (int, error) {
		seen = append(seen, token)
		if len(seen) == 1 {
			return 0, &core.ProviderError{Status: 401, Message: "invalid_token"}
		}
		return 42, nil
	})

	s.Require().NoError(err)
	s.True(status.OK())
	s.Equal(42, result)
	s.Equal([]string{"access-1", "access-2"}, seen)
	s.Equal(refreshed, s.stored("u1"))
	s.oauth.AssertNumberOfCalls(s.T(), "Refresh", 1)
}

func (s *TokenManagerSuite) TestRequestWithRetryRetriesOnInvalidTokenCode() {
	s.Require().NoError(s.manager.SaveTokens(s.ctx, "u1", s.bundle("access-1", "refresh-1", time.Hour)))
	s.oauth.On("Refresh", mock.Anything, "refresh-1").Return(s.bundle("access-2", "refresh-2", time.Hour), nil).Once()

	calls := 0
	_, status, err := RequestWithRetry(s.ctx, s.manager, "u1", func(ctx context.Context, token string) (string, error) {
		calls++
		if calls == 1 {
			return "", &core.ProviderError{Status: 100, Code: "invalid_token"}
		}
		return "ok", nil
	})

	s.Require().NoError(err)
	s.True(status.OK())
	s.Equal(2, calls)
}

func (s *TokenManagerSuite) TestRequestWithRetryGivesUpAfterSecondUnauthorized() {
	s.Require().NoError(s.manager.SaveTokens(s.ctx, "u1", s.bundle("access-1", "refresh-1", time.Hour)))
	s.oauth.On("Refresh", mock.Anything, "refresh-1").Return(s.bundle("access-2", "refresh-2", time.Hour), nil).Once()
	s.events.On("PublishReauthRequired", mock.Anything, "u1").Return(nil).Once()

	calls := 0
	_, status, err := RequestWithRetry(s.ctx, s.manager, "u1", func(ctx context.Context, token string) (string, error) {
		calls++
		return "", &core.ProviderError{Status: 401}
	})

	s.Require().NoError(err)
	s.Equal(core.StatusReauthRequired, status.Kind)
	s.Equal(2, calls)
	s.oauth.AssertNumberOfCalls(s.T(), "Refresh", 1)
}

func (s *TokenManagerSuite) TestRequestWithRetryReauthWhenReactiveRefreshFails() {
	original := s.bundle("access-1", "refresh-1", time.Hour)
	s.Require().NoError(s.manager.SaveTokens(s.ctx, "u1", original))
	s.oauth.On("Refresh", mock.Anything, "refresh-1").
		Return(core.TokenBundle{}, &core.ProviderError{Status: 503, Message: "invalid refresh_token"}).Once()
	s.events.On("PublishReauthRequired", mock.Anything, "u1").Return(nil).Once()

	calls := 0
	_, status, err := RequestWithRetry(s.ctx, s.manager, "u1", func(ctx context.Context, token string) (string, error) {
		calls++
		return "", &core.ProviderError{Status: 401}
	})

	s.Require().NoError(err)
	s.Equal(core.StatusReauthRequired, status.Kind)
	s.Equal(1, calls)
	s.Equal(original, s.stored("u1"))
}

func (s *TokenManagerSuite) TestRequestWithRetryPassesThroughOtherErrors() {
	s.Require().NoError(s.manager.SaveTokens(s.ctx, "u1", s.bundle("access-1", "refresh-1", time.Hour)))
	providerErr := &core.ProviderError{Status: 503, Message: "service unavailable"}

	calls := 0
	_, _, err := RequestWithRetry(s.ctx, s.manager, "u1", func(ctx context.Context, token string) (string, error) {
		calls++
		return "", providerErr
	})

	s.Same(providerErr, err)
	s.Equal(1, calls)
	s.oauth.AssertNotCalled(s.T(), "Refresh", mock.Anything, mock.Anything)
}

func (s *TokenManagerSuite) TestRequestWithRetryProactiveAndReactiveRefreshAtMostOnceEach() {
	s.Require().NoError(s.manager.SaveTokens(s.ctx, "u1", s.bundle("access-1", "refresh-1", time.Second)))
	s.oauth.On("Refresh", mock.Anything, "refresh-1").Return(s.bundle("access-2", "refresh-2", time.Hour), nil).Once()
	s.oauth.On("Refresh", mock.Anything, "refresh-2").Return(s.bundle("access-3", "refresh-3", time.Hour), nil).Once()
	s.events.On("PublishReauthRequired", mock.Anything, "u1").Return(nil).Once()

	var seen []string
	_, status, err := RequestWithRetry(s.ctx, s.manager, "u1", func(ctx context.Context, token string) (string, error) {
		seen = append(seen, token)
		return "", &core.ProviderError{Status: 401}
	})

	s.Require().NoError(err)
	s.Equal(core.StatusReauthRequired, status.Kind)
	s.Equal([]string{"access-2", "access-3"}, seen)
	s.oauth.AssertNumberOfCalls(s.T(), "Refresh", 2)
}
