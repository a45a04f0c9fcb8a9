// Package model defines credential domain models
package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// NewCredentialID creates a new prefixed credential ID
func NewCredentialID() string {
	return "CRD-" + uuid.New().String()
}

// CredentialType represents the type of credential
type CredentialType string

const (
	CredentialTypeAPIKey      CredentialType = "api_key"
	CredentialTypeOAuth2      CredentialType = "oauth2"
	CredentialTypeBasicAuth   CredentialType = "basic_auth"
	CredentialTypeBearerToken CredentialType = "bearer_token"
	CredentialTypeSSHKey      CredentialType = "ssh_key"
	CredentialTypeCustom      CredentialType = "custom"
)

// Credential is a workspace-scoped secret referenceable from node
// parameters as ${credential:<id>.<path>}. Data is stored encrypted as
// a whole; decryption happens only at resolution time and decrypted
// payloads are never cached.
type Credential struct {
	ID          string
	WorkspaceID string
	Name        string
	Type        CredentialType
	Data        map[string]interface{}
	ExpiresAt   *time.Time
	LastUsedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewCredential creates a new credential
func NewCredential(workspaceID, name string, credType CredentialType) (*Credential, error) {
	if workspaceID == "" {
		return nil, errors.New("workspace ID is required")
	}
	if name == "" {
		return nil, errors.New("credential name is required")
	}

	now := time.Now()
	return &Credential{
		ID:          NewCredentialID(),
		WorkspaceID: workspaceID,
		Name:        name,
		Type:        credType,
		Data:        make(map[string]interface{}),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// SetData replaces the credential payload
func (c *Credential) SetData(data map[string]interface{}) {
	c.Data = data
	c.UpdatedAt = time.Now()
}

// MarkUsed updates the last used timestamp
func (c *Credential) MarkUsed() {
	now := time.Now()
	c.LastUsedAt = &now
}

// IsExpired checks if the credential has expired
func (c *Credential) IsExpired() bool {
	if c.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*c.ExpiresAt)
}

// SetExpiration sets the expiration time
func (c *Credential) SetExpiration(expiresAt time.Time) {
	c.ExpiresAt = &expiresAt
	c.UpdatedAt = time.Now()
}
