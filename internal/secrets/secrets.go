// Package secrets resolves provider credentials from a vault when they are
// not set in the environment.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type SecretStore interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// ProviderKeys is the JSON layout of the provider credentials secret.
type ProviderKeys struct {
	OpenAI    string `json:"openai_api_key"`
	Google    string `json:"google_api_key"`
	Anthropic string `json:"anthropic_api_key"`
}

// ResolveProviderKeys fills the keys missing from current with the values in
// the named secret. Keys already set are never overwritten.
func ResolveProviderKeys(ctx context.Context, store SecretStore, name string, current ProviderKeys) (ProviderKeys, error) {
	if current.OpenAI != "" && current.Google != "" && current.Anthropic != "" {
		return current, nil
	}

	raw, err := store.GetSecret(ctx, name)
	if err != nil {
		return current, err
	}

	var vault ProviderKeys
	if err := json.Unmarshal([]byte(raw), &vault); err != nil {
		return current, fmt.Errorf("decode secret %s: %w", name, err)
	}

	if current.OpenAI == "" {
		current.OpenAI = vault.OpenAI
	}
	if current.Google == "" {
		current.Google = vault.Google
	}
	if current.Anthropic == "" {
		current.Anthropic = vault.Anthropic
	}
	return current, nil
}

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type AWSSecretsManager struct {
	client secretsManagerAPI
	cache  map[string]*cachedSecret
	mu     sync.RWMutex
	ttl    time.Duration
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewAWSSecretsManager(cfg aws.Config) *AWSSecretsManager {
	return &AWSSecretsManager{
		client: secretsmanager.NewFromConfig(cfg),
		cache:  make(map[string]*cachedSecret),
		ttl:    5 * time.Minute,
	}
}

func (s *AWSSecretsManager) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if cached, ok := s.cache[name]; ok && time.Now().Before(cached.expiresAt) {
		s.mu.RUnlock()
		return cached.value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}

	value := aws.ToString(result.SecretString)

	s.mu.Lock()
	s.cache[name] = &cachedSecret{
		value:     value,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()

	return value, nil
}

type InMemorySecretStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewInMemorySecretStore() *InMemorySecretStore {
	return &InMemorySecretStore{
		secrets: make(map[string]string),
	}
}

func (s *InMemorySecretStore) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.secrets[name]
	if !ok {
		return "", fmt.Errorf("secret %s not found", name)
	}
	return value, nil
}

func (s *InMemorySecretStore) SetSecret(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
}
