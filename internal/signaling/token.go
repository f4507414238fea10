package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is the lifetime of locally signed join tokens.
const TokenTTL = time.Hour

// Claims are carried by join tokens.
type Claims struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// SignToken issues an HS256 token for userID in roomID.
func SignToken(secret, userID, roomID string, now time.Time) (string, error) {
	claims := Claims{
		UserID: userID,
		RoomID: roomID,
		Role:   "user",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrToken, err)
	}
	return signed, nil
}

// ParseToken verifies an HS256 token and returns its claims.
func ParseToken(secret, token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrToken, err)
	}
	return &claims, nil
}

// TokenSource produces the bearer token presented on Connect.
type TokenSource interface {
	Token(ctx context.Context, userID, roomID string) (string, error)
}

// NewTokenSource prefers a shared secret, then a token endpoint. With neither
// configured the connection is unauthenticated.
func NewTokenSource(secret, endpoint string) TokenSource {
	switch {
	case secret != "":
		return SharedSecretSource{Secret: secret}
	case endpoint != "":
		return &EndpointSource{URL: endpoint}
	default:
		return noToken{}
	}
}

// SharedSecretSource signs tokens locally.
type SharedSecretSource struct {
	Secret string
	Now    func() time.Time
}

func (s SharedSecretSource) Token(_ context.Context, userID, roomID string) (string, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return SignToken(s.Secret, userID, roomID, now())
}

// EndpointSource fetches tokens from a token-issuing service.
type EndpointSource struct {
	URL    string
	Client *http.Client
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (s *EndpointSource) Token(ctx context.Context, userID, roomID string) (string, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid token endpoint: %w", ErrToken, err)
	}
	q := u.Query()
	q.Set("userId", userID)
	q.Set("roomId", roomID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrToken, err)
	}

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: ConnectTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrToken, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned %s", ErrToken, resp.Status)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: %w", ErrToken, err)
	}
	if body.Token == "" {
		return "", fmt.Errorf("%w: empty token", ErrToken)
	}
	return body.Token, nil
}

type noToken struct{}

func (noToken) Token(context.Context, string, string) (string, error) { return "", nil }
