package posture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileDocument is the on-disk shape of one account's read model. The
// materialization status rides alongside the posture so the two stay in sync
// when the upstream pipeline drops a new file.
type fileDocument struct {
	MaterializationStatus MaterializationStatus `yaml:"materialization_status"`
	Posture               *Posture              `yaml:"posture"`
}

// FileProvider reads postures from <dir>/<tenant_id>/<account_id>.yaml on
// every call. Files are re-read each time so an upstream pipeline can replace
// them without restarting the server.
type FileProvider struct {
	dir string
}

// NewFileProvider creates a provider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

func (p *FileProvider) read(tenantID, accountID string) (*fileDocument, error) {
	path := filepath.Join(p.dir, tenantID, accountID+".yaml")
	raw, err := os.ReadFile(path) // #nosec G304 -- path built from operator-config dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading posture %s: %w", path, err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding posture %s: %w", path, err)
	}
	return &doc, nil
}

// GetPosture implements Provider.
func (p *FileProvider) GetPosture(_ context.Context, tenantID, accountID string) (*Posture, error) {
	doc, err := p.read(tenantID, accountID)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.Posture == nil {
		return nil, ErrPostureNotFound
	}
	doc.Posture.TenantID = tenantID
	doc.Posture.AccountID = accountID
	return doc.Posture, nil
}

// MaterializationStatus implements Provider. A missing file is ABSENT, a file
// without an explicit status is COMPLETED (the upstream writer only includes
// the field mid-materialization).
func (p *FileProvider) MaterializationStatus(_ context.Context, tenantID, accountID string) (MaterializationStatus, error) {
	doc, err := p.read(tenantID, accountID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return StatusAbsent, nil
	}
	if doc.MaterializationStatus == "" {
		return StatusCompleted, nil
	}
	return doc.MaterializationStatus, nil
}
