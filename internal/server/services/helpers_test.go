package services

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/sharekeeper/internal/envelope"
	"github.com/dmitrijs2005/sharekeeper/internal/logging"
	"github.com/dmitrijs2005/sharekeeper/internal/notify"
	"github.com/dmitrijs2005/sharekeeper/internal/server/config"
	"github.com/dmitrijs2005/sharekeeper/internal/server/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store    *memStore
	db       *sql.DB
	mock     sqlmock.Sqlmock
	events   *notify.Recorder
	cfg      *config.Config
	auth     *AuthService
	sharing  *SharingService
	invites  *InviteService
	attached *AttachmentService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, mock := newTxDB(t)
	store := newMemStore()
	rm := &memRepoManager{s: store}
	events := &notify.Recorder{}
	cfg := &config.Config{
		SecretKey:      "k",
		HandshakeTTL:   5 * time.Minute,
		SessionTTL:     24 * time.Hour,
		InviteValidity: 7 * 24 * time.Hour,
		S3Region:       "us-east-1",
		S3RootUser:     "minioadmin",
		S3RootPassword: "minioadmin",
		S3BaseEndpoint: "http://127.0.0.1:9000",
		S3Bucket:       "vault",
	}
	log := logging.Nop()
	return &testEnv{
		store:    store,
		db:       db,
		mock:     mock,
		events:   events,
		cfg:      cfg,
		auth:     NewAuthService(db, rm, cfg, log),
		sharing:  NewSharingService(db, rm, events, log),
		invites:  NewInviteService(db, rm, events, cfg, log),
		attached: NewAttachmentService(db, rm, cfg, log),
	}
}

func (e *testEnv) expectationsMet(t *testing.T) {
	t.Helper()
	require.NoError(t, e.mock.ExpectationsWereMet())
}

// testAccount is an account seeded straight into the store together with
// its clear keypair.
type testAccount struct {
	ID    string
	Email string
	Keys  *envelope.KeyPair
}

func (e *testEnv) addAccount(t *testing.T, email string) *testAccount {
	t.Helper()
	kp, err := envelope.GenerateKeyPair()
	require.NoError(t, err)
	id := uuid.NewString()
	e.store.accounts[id] = &models.Account{ID: id, Email: email, PublicKey: kp.Public}
	return &testAccount{ID: id, Email: email, Keys: kp}
}

func (e *testEnv) connect(a, b *testAccount) {
	e.store.conns[[2]string{a.ID, b.ID}] = true
	e.store.conns[[2]string{b.ID, a.ID}] = true
}

// secretKeys are the two data keys of one secret, held in clear by tests.
type secretKeys struct {
	preview     []byte
	credentials []byte
}

func newSecretKeys() secretKeys {
	return secretKeys{preview: envelope.NewDataKey(), credentials: envelope.NewDataKey()}
}

func wrapFor(t *testing.T, a *testAccount, key []byte) *envelope.WrappedKey {
	t.Helper()
	w, err := envelope.WrapForAccount(a.Keys.Public, key)
	require.NoError(t, err)
	return w
}

func wrapForLink(t *testing.T, link, key []byte) *envelope.WrappedKey {
	t.Helper()
	w, err := envelope.WrapForInvite(link, key)
	require.NoError(t, err)
	return w
}

func seal(t *testing.T, key []byte, plaintext string) *envelope.Sealed {
	t.Helper()
	s, err := envelope.Seal(key, []byte(plaintext))
	require.NoError(t, err)
	return s
}

// createSecret stores a secret managed by owner with its keys wrapped for
// owner, expecting one committed transaction.
func (e *testEnv) createSecret(t *testing.T, owner *testAccount, keys secretKeys, previews ...PreviewGrant) *models.Secret {
	t.Helper()
	expectCommit(e.mock)
	secret, err := e.sharing.CreateSecret(t.Context(), owner.ID, NewSecret{
		Credentials:   seal(t, keys.credentials, "hunter2"),
		Preview:       seal(t, keys.preview, "bank login"),
		SharePreviews: len(previews) > 0,
		ManagerKeys: AccessKeys{
			PreviewKey:     wrapFor(t, owner, keys.preview),
			CredentialsKey: wrapFor(t, owner, keys.credentials),
		},
		Previews: previews,
	})
	require.NoError(t, err)
	return secret
}

// transition applies one action expecting it to commit.
func (e *testEnv) transition(t *testing.T, caller *testAccount, req TransitionRequest) *models.AccessRecord {
	t.Helper()
	expectCommit(e.mock)
	rec, err := e.sharing.Transition(t.Context(), caller.ID, req)
	require.NoError(t, err)
	return rec
}

// transitionErr applies one action expecting it to roll back.
func (e *testEnv) transitionErr(t *testing.T, caller *testAccount, req TransitionRequest) error {
	t.Helper()
	expectRollback(e.mock)
	_, err := e.sharing.Transition(t.Context(), caller.ID, req)
	require.Error(t, err)
	return err
}

func (e *testEnv) record(secretID string, r models.Recipient) *models.AccessRecord {
	return e.store.access[models.AccessKey{SecretID: secretID, Recipient: r}]
}
