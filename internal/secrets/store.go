package secrets

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"golang.org/x/term"

	"majordomo/internal/config"
)

const (
	keyringPasswordEnv = "MAJORDOMO_KEYRING_PASSWORD" //nolint:gosec // env var name, not a credential
	keyringBackendEnv  = "MAJORDOMO_KEYRING_BACKEND"  //nolint:gosec // env var name, not a credential
)

var (
	ErrSecretNotFound        = errors.New("secret not found")
	errMissingSecretKey      = errors.New("missing secret key")
	errMissingUsername       = errors.New("missing username")
	errMissingValue          = errors.New("missing secret value")
	errNoTTY                 = errors.New("no TTY available for keyring file backend password prompt")
	errInvalidKeyringBackend = errors.New("invalid keyring backend")
	errKeyringTimeout        = errors.New("keyring connection timed out")
	openKeyringFunc          = openKeyring
	keyringOpenFunc          = keyring.Open
)

const (
	keyringBackendAuto = "auto"

	// keyringOpenTimeout bounds keyring.Open. On headless Linux, D-Bus
	// SecretService can hang indefinitely if gnome-keyring is installed but
	// not running.
	keyringOpenTimeout = 5 * time.Second
)

func allowedBackends(backend string) ([]keyring.BackendType, error) {
	switch backend {
	case "", keyringBackendAuto:
		return nil, nil
	case "keychain":
		return []keyring.BackendType{keyring.KeychainBackend}, nil
	case "secret-service":
		return []keyring.BackendType{keyring.SecretServiceBackend}, nil
	case "file":
		return []keyring.BackendType{keyring.FileBackend}, nil
	default:
		return nil, fmt.Errorf("%w: %q (expected %s, keychain, secret-service, or file)", errInvalidKeyringBackend, backend, keyringBackendAuto)
	}
}

func fileKeyringPasswordFuncFrom(password string, passwordSet bool, isTTY bool) keyring.PromptFunc {
	// An empty passphrase set on purpose is valid.
	if passwordSet {
		return keyring.FixedStringPrompt(password)
	}

	if isTTY {
		return keyring.TerminalPrompt
	}

	return func(_ string) (string, error) {
		return "", fmt.Errorf("%w; set %s", errNoTTY, keyringPasswordEnv)
	}
}

func fileKeyringPasswordFunc() keyring.PromptFunc {
	password, passwordSet := os.LookupEnv(keyringPasswordEnv)
	return fileKeyringPasswordFuncFrom(password, passwordSet, term.IsTerminal(int(os.Stdin.Fd())))
}

func shouldForceFileBackend(goos, backend, dbusAddr string) bool {
	return goos == "linux" && backend == keyringBackendAuto && dbusAddr == ""
}

func openKeyring() (keyring.Keyring, error) {
	keyringDir, err := config.EnsureKeyringDir()
	if err != nil {
		return nil, err
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv(keyringBackendEnv)))
	if backend == "" {
		backend = keyringBackendAuto
	}
	backends, err := allowedBackends(backend)
	if err != nil {
		return nil, err
	}

	dbusAddr := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	if shouldForceFileBackend(runtime.GOOS, backend, dbusAddr) {
		backends = []keyring.BackendType{keyring.FileBackend}
	}

	cfg := keyring.Config{
		ServiceName:              config.AppName,
		KeychainTrustApplication: false,
		AllowedBackends:          backends,
		FileDir:                  keyringDir,
		FilePasswordFunc:         fileKeyringPasswordFunc(),
	}

	return openKeyringWithTimeout(cfg, keyringOpenTimeout)
}

type keyringResult struct {
	ring keyring.Keyring
	err  error
}

func openKeyringWithTimeout(cfg keyring.Config, timeout time.Duration) (keyring.Keyring, error) {
	ch := make(chan keyringResult, 1)

	go func() {
		ring, err := keyringOpenFunc(cfg)
		ch <- keyringResult{ring, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("open keyring: %w", res.err)
		}
		return res.ring, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w after %v; set %s=file and %s=<password> to use encrypted file storage",
			errKeyringTimeout, timeout, keyringBackendEnv, keyringPasswordEnv)
	}
}

func setSecret(key string, value []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errMissingSecretKey
	}
	if len(value) == 0 {
		return errMissingValue
	}

	ring, err := openKeyringFunc()
	if err != nil {
		return err
	}

	if err := ring.Set(keyring.Item{Key: key, Data: value, Label: config.AppName}); err != nil {
		return fmt.Errorf("store secret: %w", err)
	}
	return nil
}

func getSecret(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errMissingSecretKey
	}

	ring, err := openKeyringFunc()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("read secret: %w", err)
	}

	return string(item.Data), nil
}

func SetPassword(username, password string) error {
	user := normalize(username)
	if user == "" {
		return errMissingUsername
	}
	return setSecret(passwordKey(user), []byte(password))
}

func GetPassword(username string) (string, error) {
	user := normalize(username)
	if user == "" {
		return "", errMissingUsername
	}
	return getSecret(passwordKey(user))
}

// SetAPIKey stores the inference API key for an endpoint.
func SetAPIKey(baseURL, apiKey string) error {
	return setSecret(apiKeyKey(baseURL), []byte(apiKey))
}

func GetAPIKey(baseURL string) (string, error) {
	return getSecret(apiKeyKey(baseURL))
}

func passwordKey(username string) string {
	return fmt.Sprintf("auth:password:%s", username)
}

func apiKeyKey(baseURL string) string {
	return fmt.Sprintf("llm:api_key:%s", strings.TrimRight(normalize(baseURL), "/"))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
