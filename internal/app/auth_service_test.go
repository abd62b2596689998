package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infosec-rag/internal/model"
	"infosec-rag/internal/pkg/jwtutil"
)

type memClients struct {
	byName map[string]*model.APIClient
	nextID uint
}

func newMemClients() *memClients {
	return &memClients{byName: map[string]*model.APIClient{}}
}

func (m *memClients) Create(c *model.APIClient) error {
	m.nextID++
	c.ID = m.nextID
	m.byName[c.Name] = c
	return nil
}

func (m *memClients) GetByName(name string) (*model.APIClient, error) {
	return m.byName[name], nil
}

func TestAuthServiceCreateAndIssue(t *testing.T) {
	svc := NewAuthService(newMemClients(), "jwt-secret", time.Hour)

	client, err := svc.CreateClient("soc-dashboard", "0123456789abcdef")
	require.NoError(t, err)
	assert.NotEqual(t, "0123456789abcdef", client.SecretHash)

	_, err = svc.CreateClient("soc-dashboard", "0123456789abcdef")
	assert.ErrorIs(t, err, ErrClientExists)

	res, err := svc.IssueToken("soc-dashboard", "0123456789abcdef")
	require.NoError(t, err)
	claims, err := jwtutil.ParseToken("jwt-secret", res.Token)
	require.NoError(t, err)
	assert.Equal(t, client.ID, claims.ClientID)
}

func TestAuthServiceRejects(t *testing.T) {
	svc := NewAuthService(newMemClients(), "jwt-secret", time.Hour)

	_, err := svc.CreateClient("short", "abc")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateClient("soc", "0123456789abcdef")
	require.NoError(t, err)

	_, err = svc.IssueToken("soc", "wrong-secret-value")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	_, err = svc.IssueToken("nobody", "0123456789abcdef")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	_, err = svc.IssueToken("", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
