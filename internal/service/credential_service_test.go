package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	config "github.com/nileshdv/postmux/configs"
	"github.com/nileshdv/postmux/internal/models"
	"github.com/nileshdv/postmux/internal/platform"
	"github.com/nileshdv/postmux/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecretKey = "0123456789abcdef0123456789abcdef"

type fakeAccountRepo struct {
	mu      sync.Mutex
	account *models.SocialAccount
	updates int
	status  string

	// firstReadExpiry overrides the expiry returned by the first read,
	// simulating a caller holding a stale row while another refresh lands.
	firstReadExpiry *time.Time
	reads           int
}

func (r *fakeAccountRepo) GetByUserAndPlatform(ctx context.Context, userID int64, platformName string) (*models.SocialAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.account == nil {
		return nil, nil
	}
	r.reads++
	copied := *r.account
	if r.reads == 1 && r.firstReadExpiry != nil {
		copied.TokenExpiresAt = *r.firstReadExpiry
	}
	return &copied, nil
}

func (r *fakeAccountRepo) UpdateTokens(ctx context.Context, accountID int64, sa *models.SocialAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	if sa.AccessToken != "" {
		r.account.AccessToken = sa.AccessToken
	}
	if sa.RefreshToken != "" {
		r.account.RefreshToken = sa.RefreshToken
	}
	r.account.TokenExpiresAt = sa.TokenExpiresAt
	r.account.AccountStatus = models.AccountStatusActive
	return nil
}

func (r *fakeAccountRepo) SetStatus(ctx context.Context, accountID int64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.account.AccountStatus = status
	return nil
}

func (r *fakeAccountRepo) Upsert(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error) {
	return 0, nil
}
func (r *fakeAccountRepo) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	return nil, nil
}
func (r *fakeAccountRepo) ListInfoByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.account == nil {
		return nil, nil
	}
	copied := *r.account
	return []*models.SocialAccount{&copied}, nil
}
func (r *fakeAccountRepo) ListExpiring(ctx context.Context, initialTime, finalTime time.Time) ([]*models.SocialAccount, error) {
	return nil, nil
}
func (r *fakeAccountRepo) CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error) {
	return false, nil
}
func (r *fakeAccountRepo) Remove(ctx context.Context, id int64) error { return nil }

func (r *fakeAccountRepo) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

func encryptForTest(t *testing.T, plaintext string) string {
	t.Helper()
	out, err := utils.Encrypt([]byte(plaintext), []byte(testSecretKey))
	require.NoError(t, err)
	return out
}

func testAccount(t *testing.T, platformName string, expiresAt time.Time) *models.SocialAccount {
	return &models.SocialAccount{
		ID:              42,
		UserID:          9,
		Platform:        platformName,
		AccountID:       "acct-1",
		AccountUsername: "tester",
		AccessToken:     encryptForTest(t, "access-plain"),
		RefreshToken:    encryptForTest(t, "refresh-plain"),
		TokenExpiresAt:  expiresAt,
		AccountStatus:   models.AccountStatusActive,
	}
}

func newCredentialFixture(repo *fakeAccountRepo, adapter platform.Adapter) CredentialService {
	cfg := config.Config{SecretKey: testSecretKey}
	return NewCredentialService(cfg, repo, platform.NewRegistry(adapter))
}

func TestGetForUseFreshTokenNoRefresh(t *testing.T) {
	adapter := &fakeAdapter{name: platform.PlatformBluesky}
	repo := &fakeAccountRepo{account: testAccount(t, platform.PlatformBluesky, time.Now().Add(2*time.Hour))}

	cs := newCredentialFixture(repo, adapter)

	tokens, err := cs.GetForUse(context.Background(), 9, platform.PlatformBluesky)
	require.NoError(t, err)

	assert.Equal(t, "access-plain", tokens.AccessToken)
	assert.Equal(t, "refresh-plain", tokens.RefreshToken)
	assert.Equal(t, "acct-1", tokens.AccountID)
	assert.Equal(t, 0, adapter.callCount())
}

func TestGetForUseRefreshesNearExpiry(t *testing.T) {
	adapter := &fakeAdapter{name: platform.PlatformBluesky}
	adapter.refresh = func(tokens platform.Tokens) (*platform.Credentials, error) {
		assert.Equal(t, "refresh-plain", tokens.RefreshToken)
		return &platform.Credentials{
			AccessToken:    "access-new",
			RefreshToken:   "refresh-new",
			TokenExpiresAt: time.Now().Add(2 * time.Hour),
		}, nil
	}

	repo := &fakeAccountRepo{account: testAccount(t, platform.PlatformBluesky, time.Now().Add(time.Minute))}
	cs := newCredentialFixture(repo, adapter)

	tokens, err := cs.GetForUse(context.Background(), 9, platform.PlatformBluesky)
	require.NoError(t, err)

	assert.Equal(t, "access-new", tokens.AccessToken)
	assert.Equal(t, "refresh-new", tokens.RefreshToken)
	assert.Equal(t, 1, repo.updateCount())
}

func TestGetForUseConcurrentCallersShareOneRefresh(t *testing.T) {
	adapter := &fakeAdapter{name: platform.PlatformBluesky}
	adapter.refresh = func(tokens platform.Tokens) (*platform.Credentials, error) {
		time.Sleep(50 * time.Millisecond)
		return &platform.Credentials{
			AccessToken:    "access-new",
			TokenExpiresAt: time.Now().Add(2 * time.Hour),
		}, nil
	}

	repo := &fakeAccountRepo{account: testAccount(t, platform.PlatformBluesky, time.Now().Add(time.Minute))}
	cs := newCredentialFixture(repo, adapter)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens, err := cs.GetForUse(context.Background(), 9, platform.PlatformBluesky)
			assert.NoError(t, err)
			assert.Equal(t, "access-new", tokens.AccessToken)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, adapter.callCount())
	assert.Equal(t, 1, repo.updateCount())
}

func TestRefreshNeverShortensTokenLifetime(t *testing.T) {
	storedExpiry := time.Now().Add(48 * time.Hour)

	adapter := &fakeAdapter{name: platform.PlatformInstagram}
	adapter.refresh = func(tokens platform.Tokens) (*platform.Credentials, error) {
		return &platform.Credentials{
			AccessToken:    "access-new",
			TokenExpiresAt: time.Now().Add(time.Hour),
		}, nil
	}

	repo := &fakeAccountRepo{account: testAccount(t, platform.PlatformInstagram, storedExpiry)}
	cs := newCredentialFixture(repo, adapter)

	err := cs.RefreshAccount(context.Background(), repo.account)
	require.NoError(t, err)

	assert.Equal(t, storedExpiry, repo.account.TokenExpiresAt)
}

func TestRefreshRejectionMarksNeedsReauth(t *testing.T) {
	adapter := &fakeAdapter{name: platform.PlatformBluesky}
	adapter.refresh = func(tokens platform.Tokens) (*platform.Credentials, error) {
		return nil, &platform.Error{Platform: platform.PlatformBluesky, Kind: platform.KindRefresh, Message: "expired"}
	}

	repo := &fakeAccountRepo{account: testAccount(t, platform.PlatformBluesky, time.Now().Add(time.Minute))}
	cs := newCredentialFixture(repo, adapter)

	_, err := cs.GetForUse(context.Background(), 9, platform.PlatformBluesky)
	require.ErrorIs(t, err, ErrNeedsReauth)

	assert.Equal(t, models.AccountStatusNeedsReauth, repo.status)
	assert.Equal(t, 0, repo.updateCount())
}

func TestRefreshTransientNetworkFailureKeepsAccountActive(t *testing.T) {
	// Nothing listens on this port, so the refresh probe fails at the
	// transport layer rather than with a rejection.
	adapter := platform.NewMastodonAdapter("http://127.0.0.1:1", "id", "secret")
	repo := &fakeAccountRepo{account: testAccount(t, platform.PlatformMastodon, time.Now().Add(-time.Hour))}

	cs := newCredentialFixture(repo, adapter)

	err := cs.RefreshAccount(context.Background(), repo.account)
	require.Error(t, err)
	assert.False(t, platform.IsKind(err, platform.KindRefresh))

	assert.Empty(t, repo.status)
	assert.Equal(t, models.AccountStatusActive, repo.account.AccountStatus)
	assert.Equal(t, 0, repo.updateCount())
}

func TestMarkUnauthorizedSetsNeedsReauth(t *testing.T) {
	adapter := &fakeAdapter{name: platform.PlatformBluesky}
	repo := &fakeAccountRepo{account: testAccount(t, platform.PlatformBluesky, time.Now().Add(time.Hour))}

	cs := newCredentialFixture(repo, adapter)

	require.NoError(t, cs.MarkUnauthorized(context.Background(), 9, platform.PlatformBluesky))
	assert.Equal(t, models.AccountStatusNeedsReauth, repo.status)
}

func TestGetForUseRechecksExpiryInsideFlight(t *testing.T) {
	adapter := &fakeAdapter{name: platform.PlatformBluesky}
	repo := &fakeAccountRepo{account: testAccount(t, platform.PlatformBluesky, time.Now().Add(2*time.Hour))}

	// The first read reports an expiry inside the lookahead window; by the
	// time the flight rereads, the stored row is already fresh.
	stale := time.Now().Add(time.Minute)
	repo.firstReadExpiry = &stale

	cs := newCredentialFixture(repo, adapter)

	tokens, err := cs.GetForUse(context.Background(), 9, platform.PlatformBluesky)
	require.NoError(t, err)

	assert.Equal(t, "access-plain", tokens.AccessToken)
	assert.Equal(t, 0, adapter.callCount())
	assert.Equal(t, 0, repo.updateCount())
}

func TestGetForUseNeedsReauthAccount(t *testing.T) {
	adapter := &fakeAdapter{name: platform.PlatformBluesky}
	account := testAccount(t, platform.PlatformBluesky, time.Now().Add(time.Hour))
	account.AccountStatus = models.AccountStatusNeedsReauth

	repo := &fakeAccountRepo{account: account}
	cs := newCredentialFixture(repo, adapter)

	_, err := cs.GetForUse(context.Background(), 9, platform.PlatformBluesky)
	require.ErrorIs(t, err, ErrNeedsReauth)
	assert.Equal(t, 0, adapter.callCount())
}

func TestGetForUseNotConnected(t *testing.T) {
	adapter := &fakeAdapter{name: platform.PlatformBluesky}
	repo := &fakeAccountRepo{}
	cs := newCredentialFixture(repo, adapter)

	_, err := cs.GetForUse(context.Background(), 9, platform.PlatformBluesky)
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestGetForUseNonExpiringPlatformSkipsRefresh(t *testing.T) {
	adapter := &fakeAdapter{name: platform.PlatformMastodon}
	repo := &fakeAccountRepo{account: testAccount(t, platform.PlatformMastodon, time.Now().Add(-time.Hour))}

	cs := newCredentialFixture(repo, adapter)

	tokens, err := cs.GetForUse(context.Background(), 9, platform.PlatformMastodon)
	require.NoError(t, err)
	assert.Equal(t, "access-plain", tokens.AccessToken)
	assert.Equal(t, 0, adapter.callCount())
}
