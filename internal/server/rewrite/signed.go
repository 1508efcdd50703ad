package rewrite

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dmitrijs2005/mediaarchive/internal/common"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

// tokenParam is the query parameter carrying the delivery token.
const tokenParam = "token"

// DeliveryClaims binds a token to one storage path.
type DeliveryClaims struct {
	jwt.RegisteredClaims
	Path string `json:"path"`
}

// SignedURLRewriter serves elements like BaseURLRewriter and appends an
// HS256 token that expires after Validity.
type SignedURLRewriter struct {
	base     *BaseURLRewriter
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

func NewSignedURLRewriter(base string, secret []byte, validity time.Duration) *SignedURLRewriter {
	return &SignedURLRewriter{
		base:     NewBaseURLRewriter(base),
		secret:   secret,
		validity: validity,
		now:      time.Now,
	}
}

func (r *SignedURLRewriter) Rewrite(path models.StoragePath, e models.Element) (string, error) {
	plain, err := r.base.Rewrite(path, e)
	if err != nil {
		return "", err
	}
	token, err := GenerateDeliveryToken(path, r.secret, r.now().Add(r.validity))
	if err != nil {
		return "", err
	}
	return plain + "?" + tokenParam + "=" + url.QueryEscape(token), nil
}

// Verify returns the storage path a token produced by Rewrite grants.
func (r *SignedURLRewriter) Verify(token string) (models.StoragePath, error) {
	return VerifyDeliveryToken(token, r.secret)
}

// GenerateDeliveryToken signs path with an expiry.
func GenerateDeliveryToken(path models.StoragePath, secretKey []byte, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, DeliveryClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Path: path.Key(),
	})

	s, err := token.SignedString(secretKey)
	if err != nil {
		return "", fmt.Errorf("sign delivery token: %w", err)
	}
	return s, nil
}

// VerifyDeliveryToken checks the signature and expiry of tokenString and
// returns the storage path it grants.
func VerifyDeliveryToken(tokenString string, secretKey []byte) (models.StoragePath, error) {
	claims := &DeliveryClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.StoragePath{}, common.ErrTokenExpired
		}
		return models.StoragePath{}, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !token.Valid {
		return models.StoragePath{}, common.ErrInvalidToken
	}

	path, err := models.ParseStoragePath(claims.Path)
	if err != nil {
		return models.StoragePath{}, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	return path, nil
}
