package service

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/medoxie/gateway/core"
	"github.com/medoxie/gateway/internal/eth"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockOAuthClient struct {
	mock.Mock
}

func (m *MockOAuthClient) AuthorizeURL(state string) string {
	args := m.Called(state)
	return args.String(0)
}

func (m *MockOAuthClient) ExchangeCode(ctx context.Context, code string) (core.TokenBundle, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(core.TokenBundle), args.Error(1)
}

func (m *MockOAuthClient) Refresh(ctx context.Context, refreshToken string) (core.TokenBundle, error) {
	args := m.Called(ctx, refreshToken)
	return args.Get(0).(core.TokenBundle), args.Error(1)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishConnected(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockEventPublisher) PublishReauthRequired(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// wallet signs canonical messages the way the browser client does
type wallet struct {
	key     *ecdsa.PrivateKey
	address string
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

func (w wallet) sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := eth.SignPersonal([]byte(message), w.key)
	require.NoError(t, err)
	return hexutil.Encode(sig)
}

// envelope builds a correctly signed envelope for profileID and path at ts
func (w wallet) envelope(t *testing.T, profileID, path string, ts time.Time) core.SignedEnvelope {
	t.Helper()
	return w.envelopeAt(t, profileID, path, ts.UnixMilli())
}

// envelopeAt signs an envelope for a raw millisecond timestamp
func (w wallet) envelopeAt(t *testing.T, profileID, path string, ms int64) core.SignedEnvelope {
	t.Helper()
	timestamp := strconv.FormatInt(ms, 10)
	message := core.CanonicalMessage(w.address, profileID, timestamp, path)
	return core.SignedEnvelope{
		Address:        w.address,
		ProfileID:      profileID,
		Timestamp:      timestamp,
		EncodedMessage: base64.StdEncoding.EncodeToString([]byte(message)),
		Signature:      w.sign(t, message),
	}
}

func envelopeHeaders(env core.SignedEnvelope) http.Header {
	h := http.Header{}
	h.Set(HeaderAddress, env.Address)
	h.Set(HeaderProfileID, env.ProfileID)
	h.Set(HeaderTimestamp, env.Timestamp)
	h.Set(HeaderMessage, env.EncodedMessage)
	h.Set(HeaderSignature, env.Signature)
	return h
}
