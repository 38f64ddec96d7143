package httpapi

import (
	"github.com/dmitrijs2005/sharekeeper/internal/api"
	"github.com/dmitrijs2005/sharekeeper/internal/server/models"
	"github.com/dmitrijs2005/sharekeeper/internal/server/services"
)

func toAPIAccount(a *models.Account) api.Account {
	return api.Account{ID: a.ID, Email: a.Email, PublicKey: a.PublicKey, CreatedAt: a.CreatedAt}
}

func toAPIRecipient(r models.Recipient) api.Recipient {
	return api.Recipient{Kind: string(r.Kind), ID: r.ID}
}

func fromAPIRecipient(r api.Recipient) (models.Recipient, error) {
	kind, err := models.ParseRecipientKind(r.Kind)
	if err != nil {
		return models.Recipient{}, err
	}
	return models.Recipient{Kind: kind, ID: r.ID}, nil
}

func toAPIRecord(r *models.AccessRecord) *api.AccessRecord {
	if r == nil {
		return nil
	}
	return &api.AccessRecord{
		SecretID:       r.Key.SecretID,
		Recipient:      toAPIRecipient(r.Key.Recipient),
		Status:         string(r.Status),
		PreviewKey:     r.PreviewKey,
		CredentialsKey: r.CredentialsKey,
		UpdatedAt:      r.UpdatedAt,
	}
}

func toAPIRecords(rs []*models.AccessRecord) []*api.AccessRecord {
	out := make([]*api.AccessRecord, 0, len(rs))
	for _, r := range rs {
		out = append(out, toAPIRecord(r))
	}
	return out
}

func toAPISecret(s *models.Secret, access *models.AccessRecord) api.Secret {
	return api.Secret{
		ID:            s.ID,
		ManagerID:     s.ManagerID,
		Credentials:   s.Credentials,
		Preview:       s.Preview,
		SharePreviews: s.SharePreviews,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		Access:        toAPIRecord(access),
	}
}

func toAPISecrets(ls []*models.SecretListing) []api.Secret {
	out := make([]api.Secret, 0, len(ls))
	for _, l := range ls {
		out = append(out, toAPISecret(l.Secret, l.Access))
	}
	return out
}

func toAPIInvite(i *models.Invite) api.Invite {
	return api.Invite{
		ID:         i.ID,
		InviterID:  i.InviterID,
		Contact:    i.Contact,
		Status:     string(i.Status),
		ExpiresAt:  i.ExpiresAt,
		AcceptedBy: i.AcceptedBy,
		CreatedAt:  i.CreatedAt,
	}
}

func toAPIConnections(cs []*models.Connection) []api.Connection {
	out := make([]api.Connection, 0, len(cs))
	for _, c := range cs {
		out = append(out, api.Connection{AccountID: c.PeerID, Email: c.PeerEmail, PublicKey: c.PeerPublicKey})
	}
	return out
}

func toAPIFinish(r *services.HandshakeResult) api.HandshakeFinishResponse {
	out := api.HandshakeFinishResponse{
		ID:                  r.ID,
		ServerProof:         r.ServerProof,
		SessionWrapper:      r.SessionWrapper,
		MasterKeyPbkdf2Salt: r.MasterKeyPbkdf2Salt,
	}
	if r.Keys != nil {
		out.PublicKey = r.Keys.PublicKey
		out.PrivateKeySalt = r.Keys.KeySalt
		out.EncryptedPrivateKey = r.Keys.PrivateKey
	}
	return out
}

func fromAPICredentials(c api.Credentials) models.Credentials {
	return models.Credentials{
		SRPSalt:             c.SRPSalt,
		SRPPbkdf2Salt:       c.SRPPbkdf2Salt,
		MasterKeyPbkdf2Salt: c.MasterKeyPbkdf2Salt,
		Verifier:            c.Verifier,
		PrivateKeySalt:      c.PrivateKeySalt,
		EncryptedPrivateKey: c.EncryptedPrivateKey,
	}
}
