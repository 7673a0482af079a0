package sales

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"skillbot/internal/domain"
	"skillbot/internal/schema"
	"skillbot/internal/skill"
	"skillbot/internal/workflow"
)

// DomainName is the catalog domain this package is normally wired to.
const DomainName = "sales"

// Manifest is what the group's init hook records in storage: which intents
// and action schemas the running process serves.
type Manifest struct {
	Domain      string   `json:"domain"`
	Intents     []string `json:"intents"`
	Schemas     []string `json:"schemas"`
	InstalledAt string   `json:"installedAt"`
}

// ManifestKey returns the storage key of a domain's manifest.
func ManifestKey(domainName string) string { return "catalog:" + domainName }

// NewGroup builds the skill group of a catalog domain: one EntitySkill per
// entity. The init hook writes the domain manifest before the first skill runs.
func NewGroup(d *schema.Domain, engine *workflow.Engine, logger *slog.Logger) *skill.Group {
	manifest := Manifest{Domain: d.Name}
	for _, e := range d.Entities {
		manifest.Intents = append(manifest.Intents, e.Intent)
		for _, op := range schema.Operations {
			if e.Supports(op) {
				manifest.Schemas = append(manifest.Schemas, e.Action(d.Name, op).ID)
			}
		}
	}

	init := func(ctx context.Context, storage domain.StorageAdapter) error {
		if storage == nil {
			return nil
		}
		m := manifest
		m.InstalledAt = time.Now().UTC().Format(time.RFC3339)
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if err := storage.Put(ctx, ManifestKey(d.Name), data); err != nil {
			return domain.Persistence("write "+d.Name+" manifest", err)
		}
		logger.Info("skill group initialized", "domain", d.Name, "intents", len(m.Intents))
		return nil
	}

	g := skill.NewGroup(d.Name, d.Description, init, logger)
	for _, e := range d.Entities {
		g.Register(NewEntitySkill(d.Name, e, engine, logger))
	}
	return g
}

// LoadManifest reads a domain manifest back, reporting found=false when the
// group has not been initialised yet.
func LoadManifest(ctx context.Context, storage domain.StorageAdapter, domainName string) (Manifest, bool, error) {
	data, found, err := storage.Get(ctx, ManifestKey(domainName))
	if err != nil || !found {
		return Manifest{}, false, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, false, err
	}
	return m, true, nil
}
