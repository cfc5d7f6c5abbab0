package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	oauthStateTTL     = 10 * time.Minute
)

// OAuthProfile es la identidad devuelta por el proveedor externo.
type OAuthProfile struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	DisplayName   string
}

// OAuthProvider abstrae el intercambio de codigo de un proveedor OAuth.
type OAuthProvider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (OAuthProfile, error)
}

// GoogleOAuth implementa OAuthProvider contra Google con un timeout acotado.
type GoogleOAuth struct {
	config      *oauth2.Config
	userInfoURL string
	timeout     time.Duration
	httpClient  *http.Client
}

func NewGoogleOAuth(clientID, clientSecret, redirectURL string, timeout time.Duration) *GoogleOAuth {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GoogleOAuth{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: googleUserInfoURL,
		timeout:     timeout,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (g *GoogleOAuth) Name() string { return "google" }

func (g *GoogleOAuth) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

func (g *GoogleOAuth) Exchange(ctx context.Context, code string) (OAuthProfile, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return OAuthProfile{}, ErrOAuthInvalid
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)

	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < http.StatusInternalServerError {
			return OAuthProfile{}, fmt.Errorf("%w: %w", ErrOAuthInvalid, err)
		}
		return OAuthProfile{}, fmt.Errorf("%w: %w", ErrOAuthUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return OAuthProfile{}, fmt.Errorf("build userinfo request: %w", err)
	}
	resp, err := g.config.Client(ctx, token).Do(req)
	if err != nil {
		return OAuthProfile{}, fmt.Errorf("%w: %w", ErrOAuthUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return OAuthProfile{}, fmt.Errorf("%w: userinfo status %d", ErrOAuthUnavailable, resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return OAuthProfile{}, fmt.Errorf("%w: %w", ErrOAuthUnavailable, err)
	}
	return OAuthProfile{
		Provider:      g.Name(),
		Subject:       info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		DisplayName:   info.Name,
	}, nil
}

// OAuthStateStore guarda el parametro state del flujo OAuth; cada state se usa una sola vez.
type OAuthStateStore interface {
	Save(ctx context.Context, state string, ttl time.Duration) error
	Consume(ctx context.Context, state string) (bool, error)
}

type memoryStateStore struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func NewMemoryStateStore() OAuthStateStore {
	return &memoryStateStore{items: make(map[string]time.Time)}
}

func (s *memoryStateStore) Save(_ context.Context, state string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for k, exp := range s.items {
		if now.After(exp) {
			delete(s.items, k)
		}
	}
	s.items[state] = now.Add(ttl)
	return nil
}

func (s *memoryStateStore) Consume(_ context.Context, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.items[state]
	if !ok {
		return false, nil
	}
	delete(s.items, state)
	return time.Now().UTC().Before(exp), nil
}

type redisStateStore struct {
	client redisKVClient
	prefix string
}

func NewRedisStateStore(client redis.UniversalClient) OAuthStateStore {
	if client == nil {
		return nil
	}
	return &redisStateStore{client: client, prefix: "auth:oauth_state:"}
}

func (s *redisStateStore) Save(ctx context.Context, state string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return s.client.Set(ctx, s.prefix+state, "1", ttl).Err()
}

func (s *redisStateStore) Consume(ctx context.Context, state string) (bool, error) {
	if strings.TrimSpace(state) == "" {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	n, err := s.client.Del(ctx, s.prefix+state).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func newOAuthState() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
