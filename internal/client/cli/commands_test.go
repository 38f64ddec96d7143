package cli

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/api"
	"github.com/dmitrijs2005/sharekeeper/internal/client/client"
	"github.com/dmitrijs2005/sharekeeper/internal/client/models"
	"github.com/dmitrijs2005/sharekeeper/internal/client/services"
	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	ta := newTestApp(t)
	stubPasswords(t, "hunter2", "hunter2")
	ta.auth.On("Register", "Bob@Example.com", "hunter2").Return(nil)

	require.NoError(t, ta.run(t, "register Bob@Example.com"))
	assert.Contains(t, ta.out.String(), "Account bob@example.com created")
}

func TestRegister_PasswordMismatch(t *testing.T) {
	ta := newTestApp(t, "bob@example.com")
	stubPasswords(t, "hunter2", "hunter3")

	err := ta.run(t, "register")
	assert.ErrorIs(t, err, errPasswordMismatch)
}

func TestLogin_DefaultsToCachedEmail(t *testing.T) {
	ta := newTestApp(t, "")
	stubPasswords(t, "pw")
	s := &services.Session{Email: "alice@example.com"}
	ta.auth.On("CachedEmail").Return("alice@example.com", nil)
	ta.auth.On("Login", "alice@example.com", "pw").Return(s, nil)

	require.NoError(t, ta.run(t, "login"))
	assert.Same(t, s, ta.session)
	assert.Equal(t, string(ModeOnline), ta.mode.Load())
	assert.Contains(t, ta.out.String(), "Enter email [alice@example.com]")
}

func TestLogin_ServerDown(t *testing.T) {
	ta := newTestApp(t)
	stubPasswords(t, "pw")
	ta.auth.On("CachedEmail").Return("", client.ErrNoCachedSession)
	ta.auth.On("Login", "bob@example.com", "pw").Return(nil, client.ErrUnavailable)

	err := ta.run(t, "login bob@example.com")
	assert.ErrorIs(t, err, client.ErrUnavailable)
	assert.False(t, ta.isLoggedIn())
	assert.Equal(t, string(ModeOffline), ta.mode.Load())
}

func TestCommand_NotLoggedIn(t *testing.T) {
	ta := newTestApp(t)
	ta.auth.On("CachedEmail").Return("", client.ErrNoCachedSession)

	assert.ErrorIs(t, ta.run(t, "list"), errNotLoggedIn)
}

func TestCommand_ResumesCachedSessionOnce(t *testing.T) {
	ta := newTestApp(t)
	stubPasswords(t, "pw")
	s := &services.Session{Email: "alice@example.com"}
	ta.auth.On("CachedEmail").Return("alice@example.com", nil).Once()
	ta.auth.On("Resume", "pw").Return(s, nil).Once()
	ta.vault.On("ListSecrets", s).Return([]services.SecretView{
		{ID: "s1", Status: "manager", Preview: &models.Preview{Type: models.SecretTypeLogin, Title: "prod db"}, UpdatedAt: time.Now()},
		{ID: "s2", Status: "preview"},
	}, nil).Twice()

	require.NoError(t, ta.run(t, "list"))
	require.NoError(t, ta.run(t, "ls"))

	out := ta.out.String()
	assert.Contains(t, out, "Unlocking session of alice@example.com")
	assert.Contains(t, out, "prod db")
	assert.Contains(t, out, "(locked)")
}

func TestCommand_ResumeWrongPassword(t *testing.T) {
	ta := newTestApp(t)
	stubPasswords(t, "nope")
	ta.auth.On("CachedEmail").Return("alice@example.com", nil)
	ta.auth.On("Resume", "nope").Return(nil, common.ErrAuthFailed)

	err := ta.run(t, "list")
	assert.ErrorIs(t, err, common.ErrAuthFailed)
	assert.Contains(t, err.Error(), "run 'login'")
	assert.False(t, ta.isLoggedIn())
}

func TestAddLogin(t *testing.T) {
	ta := newTestApp(t, "prod db", "env=prod", "", "root", "https://db.internal")
	s := ta.signedIn()
	stubPasswords(t, "s3cr3t")

	creds, err := models.NewCredentials(models.Login{Username: "root", Password: "s3cr3t", URL: "https://db.internal"})
	require.NoError(t, err)
	preview := models.Preview{
		Type:     models.SecretTypeLogin,
		Title:    "prod db",
		Metadata: []models.Metadata{{Name: "env", Value: "prod"}},
	}
	ta.vault.On("CreateSecret", s, preview, creds, true).Return(&services.SecretView{ID: "s1"}, nil)

	require.NoError(t, ta.run(t, "add login --share-previews"))
	assert.Contains(t, ta.out.String(), "Secret s1 created")
}

func TestAdd_TitleRequired(t *testing.T) {
	ta := newTestApp(t, "")
	ta.signedIn()

	assert.ErrorIs(t, ta.run(t, "add note"), common.ErrValidation)
}

func TestEdit_KeepsEmptyFields(t *testing.T) {
	ta := newTestApp(t, "", "", "", "2030-01", "", "")
	s := ta.signedIn()

	old, err := models.NewCredentials(models.CreditCard{Number: "4111", Expiration: "2029-12", CVV: "123", Holder: "A"})
	require.NoError(t, err)
	view := &services.SecretView{
		ID: "s1", Status: "manager", SharePreviews: true,
		Preview: &models.Preview{Type: models.SecretTypeCreditCard, Title: "visa"},
	}
	ta.vault.On("ShowSecret", s, "s1").Return(view, &old, nil)

	next, err := models.NewCredentials(models.CreditCard{Number: "4111", Expiration: "2030-01", CVV: "123", Holder: "A"})
	require.NoError(t, err)
	ta.vault.On("UpdateSecret", s, "s1", *view.Preview, next, true).Return(nil)

	require.NoError(t, ta.run(t, "edit s1"))
}

func TestShow(t *testing.T) {
	t.Run("credentials", func(t *testing.T) {
		ta := newTestApp(t)
		s := ta.signedIn()
		c, err := models.NewCredentials(models.Note{Text: "the launch codes"})
		require.NoError(t, err)
		ta.vault.On("ShowSecret", s, "s1").Return(&services.SecretView{
			ID: "s1", Status: "shared",
			Preview: &models.Preview{Type: models.SecretTypeNote, Title: "codes", Metadata: []models.Metadata{{Name: "k", Value: "v"}}},
		}, &c, nil)

		require.NoError(t, ta.run(t, "show s1"))
		out := ta.out.String()
		assert.Contains(t, out, "codes [note]")
		assert.Contains(t, out, "k: v")
		assert.Contains(t, out, "the launch codes")
	})

	t.Run("preview only", func(t *testing.T) {
		ta := newTestApp(t)
		s := ta.signedIn()
		ta.vault.On("ShowSecret", s, "s1").Return(&services.SecretView{
			ID: "s1", Status: "preview",
			Preview: &models.Preview{Type: models.SecretTypeNote, Title: "codes"},
		}, nil, nil)

		require.NoError(t, ta.run(t, "show s1"))
		assert.Contains(t, ta.out.String(), "run 'request s1'")
	})

	t.Run("missing argument", func(t *testing.T) {
		ta := newTestApp(t)
		ta.signedIn()
		assert.ErrorIs(t, ta.run(t, "show"), common.ErrValidation)
	})
}

func TestSharingCommands(t *testing.T) {
	ta := newTestApp(t)
	s := ta.signedIn()
	ta.vault.On("Preview", s, "s1", "bob@example.com").Return(&api.AccessRecord{Status: "preview"}, nil)
	ta.vault.On("Offer", s, "s1", "bob@example.com").Return(nil, common.ErrIllegalTransition)
	ta.vault.On("Accept", s, "s2").Return(&api.AccessRecord{Status: "shared"}, nil)
	ta.vault.On("Revoke", s, "s1", "invite:inv-1").Return(nil)

	require.NoError(t, ta.run(t, "preview s1 bob@example.com"))
	assert.ErrorIs(t, ta.run(t, "offer s1 bob@example.com"), common.ErrIllegalTransition)
	assert.ErrorIs(t, ta.run(t, "offer s1"), common.ErrValidation)
	require.NoError(t, ta.run(t, "accept s2"))
	require.NoError(t, ta.run(t, "revoke s1 invite:inv-1"))

	out := ta.out.String()
	assert.Contains(t, out, "bob@example.com is now preview")
	assert.Contains(t, out, "Access to s2 is now shared")
	assert.Contains(t, out, "Access of invite:inv-1 revoked")
}

func TestAccess_ShowsEmails(t *testing.T) {
	ta := newTestApp(t)
	s := ta.signedIn()
	ta.vault.On("Access", s, "s1").Return([]*api.AccessRecord{
		{Recipient: api.Recipient{Kind: api.RecipientAccount, ID: "acc-alice"}, Status: "manager"},
		{Recipient: api.Recipient{Kind: api.RecipientAccount, ID: "acc-bob"}, Status: "offer/pending"},
		{Recipient: api.Recipient{Kind: api.RecipientInvite, ID: "inv-1"}, Status: "preview"},
	}, nil)
	ta.vault.On("Connections", s).Return([]api.Connection{{AccountID: "acc-bob", Email: "bob@example.com"}}, nil)

	require.NoError(t, ta.run(t, "access s1"))
	out := ta.out.String()
	assert.Contains(t, out, "alice@example.com")
	assert.Contains(t, out, "bob@example.com")
	assert.Contains(t, out, "invite:inv-1")
}

func TestInviteCommands(t *testing.T) {
	ta := newTestApp(t)
	s := ta.signedIn()
	inv := &api.Invite{ID: "inv-1", Contact: "carol@example.com", ExpiresAt: time.Now().Add(time.Hour)}
	ta.vault.On("CreateInvite", s, "carol@example.com").Return(inv, "tok#key", nil)
	ta.vault.On("ClaimInvite", s, "tok#key").Return([]*api.AccessRecord{{SecretID: "s1"}}, nil)

	require.NoError(t, ta.run(t, "invite create carol@example.com"))
	require.NoError(t, ta.run(t, "invite claim tok#key"))

	out := ta.out.String()
	assert.Contains(t, out, "tok#key")
	assert.Contains(t, out, "invite:inv-1")
	assert.Contains(t, out, "1 secret(s) shared with you")
}

func TestDownload(t *testing.T) {
	ta := newTestApp(t)
	s := ta.signedIn()
	dir := t.TempDir()
	ta.vault.On("Download", s, "s1", dir).Return(dir+"/id_ed25519", nil)

	require.NoError(t, ta.run(t, "download --dir "+dir+" s1"))
	assert.Contains(t, ta.out.String(), "File saved to "+dir+"/id_ed25519")
}

func TestLogout(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		ta := newTestApp(t)
		ta.signedIn()
		ta.auth.On("Logout").Return(nil)

		require.NoError(t, ta.run(t, "logout"))
		assert.False(t, ta.isLoggedIn())
	})

	t.Run("server unreachable", func(t *testing.T) {
		ta := newTestApp(t)
		ta.signedIn()
		ta.auth.On("Logout").Return(client.ErrUnavailable)

		assert.ErrorIs(t, ta.run(t, "logout"), client.ErrUnavailable)
		assert.False(t, ta.isLoggedIn(), "the local session is dropped anyway")
	})
}

func TestChangePassword(t *testing.T) {
	ta := newTestApp(t)
	s := ta.signedIn()
	next := &services.Session{Email: s.Email}
	stubPasswords(t, "new", "new")
	ta.auth.On("ChangePassword", s, "new").Return(next, nil)

	require.NoError(t, ta.run(t, "passwd"))
	assert.Same(t, next, ta.session)
}

func TestUnknownCommand(t *testing.T) {
	ta := newTestApp(t)

	require.NoError(t, ta.run(t, "frobnicate"))
	assert.Contains(t, ta.out.String(), "Unknown command: frobnicate")
}

func TestPing_SetsMode(t *testing.T) {
	ta := newTestApp(t)
	ta.auth.On("Ping").Return(client.ErrUnavailable).Once()
	ta.auth.On("Ping").Return(nil).Once()

	ta.probe(t.Context())
	assert.Equal(t, string(ModeOffline), ta.mode.Load())
	ta.probe(t.Context())
	assert.Equal(t, string(ModeOnline), ta.mode.Load())
	assert.Contains(t, ta.out.String(), "Switched to online mode")
}
