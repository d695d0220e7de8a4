package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrKeyExists    = errors.New("api key already registered")
	ErrInvalidRole  = errors.New("invalid role")
)

// APIKey is a registered credential. Only the bcrypt hash of the secret is kept.
type APIKey struct {
	ID        string
	TenantID  string
	Role      models.Role
	Hash      string
	CreatedAt time.Time
}

// KeyStore manages API keys of the form "<id>.<secret>"
type KeyStore struct {
	keys map[string]*APIKey
	cost int
	mu   sync.RWMutex
}

// NewKeyStore creates an empty key store. cost is the bcrypt cost; zero
// selects bcrypt.DefaultCost.
func NewKeyStore(cost int) *KeyStore {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &KeyStore{
		keys: make(map[string]*APIKey),
		cost: cost,
	}
}

// HashSecret hashes a key secret for storage in configuration
func HashSecret(secret string, cost int) (string, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// Register adds a key whose secret hash is already known
func (ks *KeyStore) Register(id, tenantID string, role models.Role, hash string) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if id == "" || tenantID == "" || strings.Contains(id, ".") {
		return fmt.Errorf("invalid key id %q or tenant %q", id, tenantID)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if _, ok := ks.keys[id]; ok {
		return ErrKeyExists
	}
	ks.keys[id] = &APIKey{
		ID:        id,
		TenantID:  tenantID,
		Role:      role,
		Hash:      hash,
		CreatedAt: time.Now(),
	}
	return nil
}

// GenerateKey returns a fresh key id and secret. The token presented by
// clients is id + "." + secret.
func GenerateKey() (id, secret string, err error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return uuid.NewString(), base64.RawURLEncoding.EncodeToString(secretBytes), nil
}

// Issue generates and registers a new key for tenantID and returns the
// full token. The token cannot be recovered later.
func (ks *KeyStore) Issue(tenantID string, role models.Role) (string, error) {
	id, secret, err := GenerateKey()
	if err != nil {
		return "", err
	}

	hash, err := HashSecret(secret, ks.cost)
	if err != nil {
		return "", err
	}

	if err := ks.Register(id, tenantID, role, hash); err != nil {
		return "", err
	}
	return id + "." + secret, nil
}

// Authenticate validates token and returns the principal it identifies
func (ks *KeyStore) Authenticate(token string) (models.Principal, error) {
	id, secret, ok := strings.Cut(token, ".")
	if !ok || id == "" || secret == "" {
		return models.Principal{}, ErrInvalidToken
	}

	ks.mu.RLock()
	key, ok := ks.keys[id]
	ks.mu.RUnlock()
	if !ok {
		return models.Principal{}, ErrInvalidToken
	}

	if err := bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(secret)); err != nil {
		return models.Principal{}, ErrInvalidToken
	}

	return models.Principal{KeyID: key.ID, TenantID: key.TenantID, Role: key.Role}, nil
}

// Revoke removes a key
func (ks *KeyStore) Revoke(id string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	delete(ks.keys, id)
}

// Len returns the number of registered keys
func (ks *KeyStore) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.keys)
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
