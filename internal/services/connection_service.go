package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/repo"
	"github.com/tbourn/chatflow-gateway/internal/webhook"
)

// ConnectionInput registers a messaging channel.
type ConnectionInput struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	PhoneNumber   string `json:"phone_number"`
	PhoneNumberID string `json:"phone_number_id,omitempty"`
	AccessToken   string `json:"access_token,omitempty"`
	APIVersion    string `json:"api_version,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
	VerifyToken   string `json:"verify_token,omitempty"`
}

// ConnectionService manages connections.
type ConnectionService struct {
	DB *gorm.DB
}

// NewConnectionService wires a ConnectionService.
func NewConnectionService(db *gorm.DB) *ConnectionService {
	return &ConnectionService{DB: db}
}

// Create validates in and stores a pending connection owned by userID.
// WhatsApp Cloud connections need a phone_number_id and an access token to
// send and to route callbacks.
func (s *ConnectionService) Create(ctx context.Context, userID string, in ConnectionInput) (*domain.Connection, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	name := normalizeLabel(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	p := domain.Provider(strings.ToLower(strings.TrimSpace(in.Provider)))
	if p == "" {
		p = domain.ProviderWhatsAppCloud
	}
	phone := webhook.NormalizePhone(in.PhoneNumber)
	if phone == "" {
		return nil, fmt.Errorf("%w: phone_number is required", ErrInvalidInput)
	}

	switch p {
	case domain.ProviderWhatsAppCloud:
		if strings.TrimSpace(in.PhoneNumberID) == "" || strings.TrimSpace(in.AccessToken) == "" {
			return nil, fmt.Errorf("%w: whatsapp_cloud requires phone_number_id and access_token", ErrInvalidInput)
		}
	case domain.ProviderTwilio:
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidInput, in.Provider)
	}

	c := &domain.Connection{
		UserID:        userID,
		Name:          clip(name, 255),
		Provider:      p,
		PhoneNumber:   phone,
		PhoneNumberID: strings.TrimSpace(in.PhoneNumberID),
		AccessToken:   strings.TrimSpace(in.AccessToken),
		APIVersion:    strings.TrimSpace(in.APIVersion),
		WebhookSecret: in.WebhookSecret,
		VerifyToken:   in.VerifyToken,
	}
	if c.APIVersion == "" {
		c.APIVersion = "v21.0"
	}
	if err := repo.CreateConnection(ctx, s.DB, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns a connection.
func (s *ConnectionService) Get(ctx context.Context, id string) (*domain.Connection, error) {
	c, err := repo.GetConnection(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrConnectionNotFound
	}
	return c, err
}

// SetStatus changes the connection status. A disconnected connection stops
// outbound dispatch.
func (s *ConnectionService) SetStatus(ctx context.Context, id, status string) (*domain.Connection, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case domain.ConnectionPending, domain.ConnectionConnected, domain.ConnectionDisconnected, domain.ConnectionError:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	err := repo.UpdateConnectionStatus(ctx, s.DB, id, status)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes a connection without active chats.
func (s *ConnectionService) Delete(ctx context.Context, id string) error {
	err := repo.DeleteConnection(ctx, s.DB, id)
	switch {
	case errors.Is(err, repo.ErrInUse):
		return ErrConnectionInUse
	case errors.Is(err, repo.ErrNotFound):
		return ErrConnectionNotFound
	}
	return err
}
