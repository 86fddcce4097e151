package clients

import (
	"context"
)

// User is the caller identity resolved by the authorization provider.
type User struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
}

// CompanyUser is the membership record linking a user to a company. Upload
// permission and storage accounting hang off this relationship, not the bare
// user.
type CompanyUser struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	CompanyID string `json:"company_id"`
	Role      string `json:"role,omitempty"`
}

// AuthZ is the authorization and notification collaborator. Check methods
// return nil when allowed; denial surfaces as ErrForbidden or
// ErrQuotaExceeded so callers can pass it straight through to the API layer.
type AuthZ interface {
	// GetUser resolves a bearer credential to a user identity.
	GetUser(ctx context.Context, token string) (User, error)
	GetCompanyUser(ctx context.Context, userID, companyID string) (CompanyUser, error)
	CheckUploadPermission(ctx context.Context, companyUserID string) error
	CheckStorageLimit(ctx context.Context, companyUserID string, fileSize int64) error
	CheckVideoAccess(ctx context.Context, companyUserID, videoID string) error
	UpdateVideoMetadata(ctx context.Context, videoID string, fields map[string]interface{}) error
	NotifyVideoReady(ctx context.Context, videoID, userID string) error
	Health(ctx context.Context) error
}

// NoopAuthZ is used when no authorization service is configured: every check
// passes and notifications vanish. Identity then comes from request headers,
// which the shell handles.
type NoopAuthZ struct{}

func (NoopAuthZ) GetUser(ctx context.Context, token string) (User, error) {
	return User{ID: token}, nil
}

func (NoopAuthZ) GetCompanyUser(ctx context.Context, userID, companyID string) (CompanyUser, error) {
	return CompanyUser{ID: userID, UserID: userID, CompanyID: companyID}, nil
}

func (NoopAuthZ) CheckUploadPermission(ctx context.Context, companyUserID string) error {
	return nil
}

func (NoopAuthZ) CheckStorageLimit(ctx context.Context, companyUserID string, fileSize int64) error {
	return nil
}

func (NoopAuthZ) CheckVideoAccess(ctx context.Context, companyUserID, videoID string) error {
	return nil
}

func (NoopAuthZ) UpdateVideoMetadata(ctx context.Context, videoID string, fields map[string]interface{}) error {
	return nil
}

func (NoopAuthZ) NotifyVideoReady(ctx context.Context, videoID, userID string) error {
	return nil
}

func (NoopAuthZ) Health(ctx context.Context) error {
	return nil
}
