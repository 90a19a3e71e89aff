package credential

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/99designs/keyring"

	"github.com/nhle/novel-notify/internal/api"
)

const serviceName = "novelnotify"

// Environment variables that take precedence over stored credentials.
const (
	EnvSession = "NOVELNOTIFY_SESSION"
	EnvCSRF    = "NOVELNOTIFY_CSRF"
)

// ErrNotFound is returned when no credential is stored under a key.
var ErrNotFound = errors.New("credential not found")

// Store reads and writes platform credentials in a keyring.
type Store struct {
	ring keyring.Keyring
}

// Open returns a store backed by the first available system keyring.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/novelnotify/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("novelnotify-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

// OpenFile returns a store backed by an encrypted file keyring in dir.
func OpenFile(dir, password string) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:      serviceName,
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          dir,
		FilePasswordFunc: keyring.FixedStringPrompt(password),
	})
	if err != nil {
		return nil, fmt.Errorf("opening file keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

// Get retrieves a credential value by key.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key.
func (s *Store) Set(key string, value string) error {
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	err := s.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) && !os.IsNotExist(err) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// SessionKey is the keyring key holding the session cookie for baseURL.
func SessionKey(baseURL string) string { return "session-" + host(baseURL) }

// CSRFKey is the keyring key holding the CSRF token for baseURL.
func CSRFKey(baseURL string) string { return "csrf-" + host(baseURL) }

func host(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return baseURL
	}
	return u.Host
}

// Load returns the credentials stored for baseURL, with the environment
// overriding either value. ErrNotFound is returned when no session is
// available from either source.
func (s *Store) Load(baseURL string) (api.Credentials, error) {
	var creds api.Credentials

	if s != nil {
		session, err := s.Get(SessionKey(baseURL))
		if err != nil && !errors.Is(err, ErrNotFound) {
			return creds, err
		}
		creds.SessionID = session

		csrf, err := s.Get(CSRFKey(baseURL))
		if err != nil && !errors.Is(err, ErrNotFound) {
			return creds, err
		}
		creds.CSRFToken = csrf
	}

	creds = FromEnv(creds)
	if creds.SessionID == "" {
		return creds, fmt.Errorf("no session for %s: %w", host(baseURL), ErrNotFound)
	}
	return creds, nil
}

// Save stores both credentials for baseURL.
func (s *Store) Save(baseURL string, creds api.Credentials) error {
	if err := s.Set(SessionKey(baseURL), creds.SessionID); err != nil {
		return err
	}
	return s.Set(CSRFKey(baseURL), creds.CSRFToken)
}

// FromEnv overlays credentials found in the environment onto creds.
func FromEnv(creds api.Credentials) api.Credentials {
	if v := os.Getenv(EnvSession); v != "" {
		creds.SessionID = v
	}
	if v := os.Getenv(EnvCSRF); v != "" {
		creds.CSRFToken = v
	}
	return creds
}
