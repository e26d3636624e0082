package payment

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

const challengeIssuer = "answerbook"

// usedChallengeCapacity bounds the replay cache of redeemed challenge ids.
const usedChallengeCapacity = 4096

// ChallengeClaims bind a challenge to one resource at one price.
type ChallengeClaims struct {
	Resource string `json:"resource"`
	Amount   string `json:"amount"`
	jwt.RegisteredClaims
}

// Challenger issues and redeems short-lived HS256 challenge tokens.
type Challenger struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu   sync.Mutex
	used *lru.Cache[string, time.Time]
}

// NewChallenger creates a Challenger signing with secret.
func NewChallenger(secret string, ttl time.Duration) (*Challenger, error) {
	if secret == "" {
		return nil, fmt.Errorf("challenge secret is empty")
	}
	used, err := lru.New[string, time.Time](usedChallengeCapacity)
	if err != nil {
		return nil, fmt.Errorf("create challenge cache: %w", err)
	}
	return &Challenger{secret: []byte(secret), ttl: ttl, now: time.Now, used: used}, nil
}

// Issue signs a new challenge for resource and amount.
func (c *Challenger) Issue(resource, amount string) (string, error) {
	now := c.now()
	claims := &ChallengeClaims{
		Resource: resource,
		Amount:   amount,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    challengeIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign challenge: %w", err)
	}
	return token, nil
}

// Parse validates the token's signature, expiry and binding to resource and
// amount without consuming it.
func (c *Challenger) Parse(token, resource, amount string) (*ChallengeClaims, error) {
	claims := &ChallengeClaims{}
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}, SkipClaimsValidation: true}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChallenge, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidChallenge
	}
	if claims.ExpiresAt == nil || !c.now().Before(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("%w: expired", ErrInvalidChallenge)
	}
	if claims.Issuer != challengeIssuer || claims.ID == "" {
		return nil, fmt.Errorf("%w: unexpected claims", ErrInvalidChallenge)
	}
	if claims.Resource != resource || claims.Amount != amount {
		return nil, fmt.Errorf("%w: issued for a different resource or amount", ErrInvalidChallenge)
	}
	return claims, nil
}

// Redeem marks the challenge as spent. It fails when the id was already redeemed.
func (c *Challenger) Redeem(claims *ChallengeClaims) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.used.Get(claims.ID); seen {
		return fmt.Errorf("%w: already redeemed", ErrInvalidChallenge)
	}
	c.used.Add(claims.ID, claims.ExpiresAt.Time)
	return nil
}
