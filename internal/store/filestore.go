package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"gopkg.in/yaml.v3"
)

// DefaultFlowTenant is the directory consulted when a tenant has no flow file of its own.
const DefaultFlowTenant = "default"

var flowFileExtensions = []string{".yaml", ".yml", ".json"}

// FileFlowStore serves published flows from a directory laid out as
// <dir>/<tenant>/<domain>.yaml (or .yml/.json). Files are re-read when their mtime changes.
type FileFlowStore struct {
	dir string

	mu    sync.Mutex
	cache map[string]cachedFlow
}

type cachedFlow struct {
	modTime time.Time
	def     *models.FlowDefinition
}

var _ FlowStore = (*FileFlowStore)(nil)

// NewFileFlowStore creates a store rooted at dir.
func NewFileFlowStore(dir string) *FileFlowStore {
	return &FileFlowStore{dir: dir, cache: make(map[string]cachedFlow)}
}

// GetPublished returns the tenant's flow file for domain, falling back to the default tenant.
func (s *FileFlowStore) GetPublished(ctx context.Context, tenantID string, domain models.Domain) (*models.FlowDefinition, error) {
	for _, tenant := range []string{tenantID, DefaultFlowTenant} {
		if tenant == "" {
			continue
		}
		for _, ext := range flowFileExtensions {
			path := filepath.Join(s.dir, tenant, string(domain)+ext)
			def, err := s.load(path)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return def, nil
		}
	}
	return nil, fmt.Errorf("%w: tenant %s domain %s", models.ErrFlowNotFound, tenantID, domain)
}

func (s *FileFlowStore) load(path string) (*models.FlowDefinition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cache[path]; ok && c.modTime.Equal(info.ModTime()) {
		return c.def, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	def, err := models.ParseFlowDocument(data)
	if err != nil {
		slog.Error("FileFlowStore rejected flow file", "path", path, "error", err)
		return nil, fmt.Errorf("flow file %s: %w", path, err)
	}
	s.cache[path] = cachedFlow{modTime: info.ModTime(), def: def}
	slog.Debug("FileFlowStore loaded flow file", "path", path, "nodes", len(def.Nodes))
	return def, nil
}

// WriteFlowFile validates def and writes it as YAML to <dir>/<tenant>/<domain>.yaml.
func WriteFlowFile(dir, tenantID string, domain models.Domain, def *models.FlowDefinition) (string, error) {
	if err := def.Validate(); err != nil {
		return "", err
	}
	data, err := yaml.Marshal(def)
	if err != nil {
		return "", fmt.Errorf("failed to encode flow: %w", err)
	}
	target := filepath.Join(dir, tenantID)
	if err := os.MkdirAll(target, DefaultDirPermissions); err != nil {
		return "", fmt.Errorf("failed to create flow directory: %w", err)
	}
	path := filepath.Join(target, string(domain)+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write flow file: %w", err)
	}
	return path, nil
}
