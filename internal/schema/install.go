package schema

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const maxDomainFileSize = 1 << 20

// InstallerConfig configures the catalog installer.
type InstallerConfig struct {
	Dir    string // catalog overlay directory
	Client *http.Client
	Logger *slog.Logger
}

// Installer adds and removes domain files in the catalog overlay directory.
// Installed domains take effect on the next Load.
type Installer struct {
	dir    string
	client *http.Client
	logger *slog.Logger
}

// InstalledDomain describes one file in the overlay directory.
type InstalledDomain struct {
	Name     string `json:"name"`
	Entities int    `json:"entities"`
	Path     string `json:"path"`
}

func NewInstaller(cfg InstallerConfig) (*Installer, error) {
	if cfg.Dir == "" {
		return nil, errors.New("catalog.dir is not configured")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create catalog directory: %w", err)
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Installer{dir: cfg.Dir, client: cfg.Client, logger: cfg.Logger}, nil
}

// Dir returns the overlay directory.
func (in *Installer) Dir() string { return in.dir }

// Install downloads a domain document from url, validates it and writes it
// to <domain>.yaml. A domain without a name takes the file name of url.
func (in *Installer) Install(ctx context.Context, url string) (*Domain, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := in.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch domain: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("domain not found at %s (status %d)", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDomainFileSize))
	if err != nil {
		return nil, err
	}

	d, err := ParseDomain(body)
	if err != nil {
		return nil, err
	}
	if d.Name == "" {
		base := path.Base(strings.TrimRight(url, "/"))
		d.Name = strings.TrimSuffix(base, path.Ext(base))
	}
	if strings.ContainsAny(d.Name, `/\.`) {
		return nil, fmt.Errorf("invalid domain name %q", d.Name)
	}
	if err := d.validate(); err != nil {
		return nil, err
	}

	target := filepath.Join(in.dir, d.Name+".yaml")
	if err := os.WriteFile(target, body, 0o644); err != nil {
		return nil, fmt.Errorf("write domain: %w", err)
	}
	in.logger.Info("catalog domain installed", "domain", d.Name, "entities", len(d.Entities), "path", target)
	return &d, nil
}

// Uninstall removes the overlay file of a domain.
func (in *Installer) Uninstall(name string) error {
	for _, ext := range []string{".yaml", ".yml"} {
		p := filepath.Join(in.dir, name+ext)
		if err := os.Remove(p); err == nil {
			in.logger.Info("catalog domain removed", "domain", name, "path", p)
			return nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return fmt.Errorf("domain %q not installed", name)
}

// List returns the domains in the overlay directory, sorted by name. Files
// that do not parse are skipped.
func (in *Installer) List() ([]InstalledDomain, error) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return nil, err
	}
	var out []InstalledDomain
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		p := filepath.Join(in.dir, name)
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		d, err := ParseDomain(data)
		if err != nil {
			in.logger.Warn("skipping unreadable catalog file", "path", p, "err", err)
			continue
		}
		if d.Name == "" {
			d.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		out = append(out, InstalledDomain{Name: d.Name, Entities: len(d.Entities), Path: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
