package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	pepperMu   sync.RWMutex
	pepper     string
	pepperFile = "data/pepper"
)

// SetPepperPath sets where the pepper lives. The file is created with a
// random value on first use when it does not exist.
func SetPepperPath(file string) {
	pepperMu.Lock()
	defer pepperMu.Unlock()
	pepperFile = file
	pepper = ""
}

// LoadPepper eagerly loads (or creates) the pepper so startup fails fast.
func LoadPepper() error {
	pepperMu.Lock()
	defer pepperMu.Unlock()
	p, err := loadOrGeneratePepper(pepperFile)
	if err != nil {
		return err
	}
	pepper = p
	return nil
}

// GetPepper returns the process pepper, loading it lazily.
func GetPepper() string {
	pepperMu.RLock()
	p := pepper
	pepperMu.RUnlock()
	if p != "" {
		return p
	}

	if err := LoadPepper(); err != nil {
		slog.Error("failed to load or generate pepper", slog.Any("err", err))
		os.Exit(1)
	}

	pepperMu.RLock()
	defer pepperMu.RUnlock()
	return pepper
}

func loadOrGeneratePepper(file string) (string, error) {
	file = filepath.Clean(file)
	if err := os.MkdirAll(filepath.Dir(file), 0750); err != nil {
		return "", err
	}

	data, err := os.ReadFile(file)
	switch {
	case err == nil:
		p := strings.TrimSpace(string(data))
		if p == "" {
			return "", errors.New("cryptox: pepper file is empty")
		}
		return p, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", err
	}

	buf := make([]byte, keyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	p := base64.RawURLEncoding.EncodeToString(buf)
	if err := os.WriteFile(file, []byte(p), 0600); err != nil {
		return "", err
	}
	return p, nil
}
