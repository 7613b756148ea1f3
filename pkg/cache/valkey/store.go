// Package valkey stores the analysis cache record in Valkey or Redis.
package valkey

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
)

// Config describes the server connection.
type Config struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      bool
	Key      string
}

// Store keeps the cache record under a single key.
type Store struct {
	client valkeygo.Client
	key    string
}

// New connects and pings the server.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: valkey address required")
	}
	if cfg.Key == "" {
		return nil, errors.New("cache: valkey key required")
	}

	option := valkeygo.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}
	if cfg.TLS {
		option.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client, err := valkeygo.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("cache: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: valkey ping: %w", err)
	}

	return &Store{client: client, key: cfg.Key}, nil
}

// Load returns the record, or nil when the key does not exist.
func (s *Store) Load(ctx context.Context) ([]byte, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(s.key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkeygo.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: valkey get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("cache: valkey get bytes: %w", err)
	}
	return payload, nil
}

// Save replaces the record. Entry expiry is handled by the cache itself, so
// the key is written without a TTL.
func (s *Store) Save(ctx context.Context, data []byte) error {
	cmd := s.client.B().Set().Key(s.key).Value(valkeygo.BinaryString(data)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: valkey set: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}
