package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arshealth/keygate/internal/observability"
)

// FileProviderConfig holds configuration for the file secrets provider.
type FileProviderConfig struct {
	// BasePath is the base directory for secrets.
	BasePath string
	// Logger is the logger instance.
	Logger observability.Logger
}

// FileProvider implements the Provider interface using local files,
// matching the layout of Kubernetes-mounted secrets:
//   - base-path/secret-name/key (each key is a separate file)
//   - base-path/secret-name.yaml (single file with all keys)
//   - base-path/secret-name.json (single file with all keys)
type FileProvider struct {
	basePath string
	logger   observability.Logger
}

// NewFileProvider creates a new file secrets provider.
func NewFileProvider(cfg *FileProviderConfig) (*FileProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrProviderNotConfigured)
	}
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("%w: base path is required", ErrProviderNotConfigured)
	}

	info, err := os.Stat(cfg.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: base path does not exist: %s", ErrProviderNotConfigured, cfg.BasePath)
		}
		return nil, fmt.Errorf("%w: failed to access base path: %v", ErrProviderNotConfigured, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: base path is not a directory: %s", ErrProviderNotConfigured, cfg.BasePath)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &FileProvider{
		basePath: cfg.BasePath,
		logger:   logger,
	}, nil
}

// Type returns the provider type.
func (p *FileProvider) Type() ProviderType {
	return ProviderTypeFile
}

// GetSecret retrieves a secret from the local filesystem.
func (p *FileProvider) GetSecret(_ context.Context, path string) (*Secret, error) {
	start := time.Now()

	cleanPath := filepath.Clean(path)
	if path == "" || strings.Contains(cleanPath, "..") {
		RecordOperation(p.Type(), "get", time.Since(start), ErrInvalidPath)
		return nil, ErrInvalidPath
	}

	secret, ok := p.readSecret(cleanPath)
	if !ok {
		RecordOperation(p.Type(), "get", time.Since(start), ErrSecretNotFound)
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
	}

	RecordOperation(p.Type(), "get", time.Since(start), nil)
	return secret, nil
}

// readSecret tries the directory layout first, then single-file formats.
func (p *FileProvider) readSecret(cleanPath string) (*Secret, bool) {
	dirPath := filepath.Join(p.basePath, cleanPath)
	if info, err := os.Stat(dirPath); err == nil && info.IsDir() {
		if secret, err := p.readSecretFromDirectory(dirPath, cleanPath); err == nil {
			return secret, true
		}
	}

	for _, ext := range []string{".yaml", ".yml", ".json"} {
		filePath := filepath.Join(p.basePath, cleanPath+ext)
		if _, err := os.Stat(filePath); err != nil {
			continue
		}
		if secret, err := p.readSecretFromFile(filePath, cleanPath, ext); err == nil {
			return secret, true
		}
	}

	// A bare file holding a single scalar value.
	if raw, err := os.ReadFile(dirPath); err == nil { //nolint:gosec // path cleaned above
		return &Secret{
			Name:     cleanPath,
			Data:     map[string][]byte{"value": []byte(strings.TrimSpace(string(raw)))},
			Metadata: map[string]string{"source": "file", "path": dirPath},
		}, true
	}

	return nil, false
}

// readSecretFromDirectory reads each file in dir as one secret key.
func (p *FileProvider) readSecretFromDirectory(dirPath, name string) (*Secret, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}

	data := make(map[string][]byte)
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		value, err := os.ReadFile(filepath.Join(dirPath, entry.Name())) //nolint:gosec // listed above
		if err != nil {
			p.logger.Warn("failed to read secret key file",
				observability.String("file", entry.Name()),
				observability.Error(err),
			)
			continue
		}
		data[entry.Name()] = value
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: directory %s holds no keys", ErrSecretNotFound, dirPath)
	}

	return &Secret{
		Name:     name,
		Data:     data,
		Metadata: map[string]string{"source": "file", "path": dirPath},
	}, nil
}

// readSecretFromFile parses a YAML or JSON secret file into keys.
func (p *FileProvider) readSecretFromFile(filePath, name, ext string) (*Secret, error) {
	raw, err := os.ReadFile(filePath) //nolint:gosec // path derived from validated base
	if err != nil {
		return nil, err
	}

	var parsed map[string]interface{}
	if ext == ".json" {
		err = json.Unmarshal(raw, &parsed)
	} else {
		err = yaml.Unmarshal(raw, &parsed)
	}
	if err != nil {
		return nil, err
	}

	data := make(map[string][]byte, len(parsed))
	for k, v := range parsed {
		switch val := v.(type) {
		case string:
			data[k] = []byte(val)
		default:
			data[k] = []byte(fmt.Sprintf("%v", val))
		}
	}

	return &Secret{
		Name:     name,
		Data:     data,
		Metadata: map[string]string{"source": "file", "path": filePath},
	}, nil
}

// HealthCheck verifies the base directory is still accessible.
func (p *FileProvider) HealthCheck(_ context.Context) error {
	_, err := os.Stat(p.basePath)
	RecordHealthStatus(p.Type(), err == nil)
	return err
}

// Close is a no-op for the file provider.
func (p *FileProvider) Close() error {
	return nil
}
