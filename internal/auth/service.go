package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/glimpse/backend/internal/logging"
	"github.com/glimpse/backend/internal/models"
)

var (
	// ErrInvalidCredentials indicates the email/password pair did not match an account.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailInUse indicates an account already exists for the email address.
	ErrEmailInUse = errors.New("email already in use")
	// ErrWeakPassword indicates the password does not meet the minimum length.
	ErrWeakPassword = errors.New("password must be at least 8 characters")
	// ErrInvalidEmail indicates the email address could not be parsed.
	ErrInvalidEmail = errors.New("invalid email address")
)

// MinPasswordLength is the shortest password accepted at sign up.
const MinPasswordLength = 8

// UserStore captures the persistence operations required by the identity service.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
}

// Service is the identity provider: it owns credentials, sessions and the
// sign-in/sign-out event stream.
type Service struct {
	users    UserStore
	sessions *Manager
	bus      *eventBus
	hashCost int
	now      func() time.Time
}

// NewService constructs an identity service.
func NewService(users UserStore, sessions *Manager) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		bus:      newEventBus(),
		hashCost: bcrypt.DefaultCost,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SignUp creates an account and signs it in.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (models.User, models.SessionTokens, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return models.User{}, models.SessionTokens{}, ErrInvalidEmail
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return models.User{}, models.SessionTokens{}, ErrInvalidEmail
	}
	if len(password) < MinPasswordLength {
		return models.User{}, models.SessionTokens{}, ErrWeakPassword
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return models.User{}, models.SessionTokens{}, ErrEmailInUse
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return models.User{}, models.SessionTokens{}, err
	}

	now := s.now()
	user := models.User{
		ID:          uuid.NewString(),
		Email:       email,
		Password:    string(hashed),
		DisplayName: strings.TrimSpace(displayName),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		// A concurrent sign up may have claimed the address between the lookup and the insert.
		if _, lookupErr := s.users.FindByEmail(ctx, email); lookupErr == nil {
			return models.User{}, models.SessionTokens{}, ErrEmailInUse
		}
		return models.User{}, models.SessionTokens{}, err
	}

	tokens, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		return models.User{}, models.SessionTokens{}, err
	}

	s.bus.publish(ctx, signedIn(user))
	return user, tokens, nil
}

// SignIn verifies credentials and issues a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (models.User, models.SessionTokens, error) {
	email = models.NormalizeEmail(email)
	if email == "" || password == "" {
		return models.User{}, models.SessionTokens{}, ErrInvalidCredentials
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		logging.FromContext(ctx).Warn("sign in user lookup failed", "email", email, "error", err)
		return models.User{}, models.SessionTokens{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return models.User{}, models.SessionTokens{}, ErrInvalidCredentials
	}

	tokens, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		return models.User{}, models.SessionTokens{}, err
	}

	s.bus.publish(ctx, signedIn(user))
	return user, tokens, nil
}

// SignOut revokes the refresh token and announces the sign-out.
func (s *Service) SignOut(ctx context.Context, refreshToken string) error {
	userID, err := s.sessions.Revoke(ctx, refreshToken)
	if err != nil {
		return err
	}
	s.bus.publish(ctx, Event{Kind: EventSignedOut, UserID: userID})
	return nil
}

// Refresh exchanges a refresh token for a new token pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error) {
	return s.sessions.Refresh(ctx, refreshToken)
}

// Authenticate resolves an access token to a user id.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (string, error) {
	return s.sessions.Authenticate(ctx, accessToken)
}

// Subscribe registers for sign-in and sign-out events. The returned function
// unsubscribes and closes the channel.
func (s *Service) Subscribe(buffer int) (<-chan Event, func()) {
	return s.bus.subscribe(buffer)
}

func signedIn(user models.User) Event {
	return Event{
		Kind:        EventSignedIn,
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
	}
}
