package provisioner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
	"go.uber.org/zap"
)

// Invocation is a resolved executable + argv + env ready to hand to the
// process supervisor.
type Invocation struct {
	Command string
	Args    []string
	Env     []string
}

// Provisioner resolves logical agent identities to Invocations and installs
// or uninstalls them on request.
type Provisioner struct {
	registry       *Registry
	homeDir        string // "<home>/.iaagenthub"
	archiveTimeout time.Duration
	log            *logger.Logger
	manifest       *Manifest
}

// New constructs a Provisioner rooted at homeDir (typically
// "<home>/.iaagenthub").
func New(registry *Registry, homeDir string, archiveTimeout time.Duration, log *logger.Logger) (*Provisioner, error) {
	if err := os.MkdirAll(filepath.Join(homeDir, "adapters"), 0o755); err != nil {
		return nil, fmt.Errorf("creating adapters cache dir: %w", err)
	}
	m, err := loadManifest(homeDir)
	if err != nil {
		return nil, err
	}
	return &Provisioner{
		registry:       registry,
		homeDir:        homeDir,
		archiveTimeout: archiveTimeout,
		log:            log,
		manifest:       m,
	}, nil
}

func (p *Provisioner) cacheDir(registryID string) string {
	return filepath.Join(p.homeDir, "adapters", registryID)
}

// Resolve implements the five-step resolution order: PATH lookup,
// installed-cache lookup, binary-archive fetch, npx fallback, configured
// command fallback.
func (p *Provisioner) Resolve(ctx context.Context, registryID string) (*Invocation, error) {
	entry, ok := p.registry.Get(registryID)
	if !ok {
		return nil, fmt.Errorf("unknown agent identity %q", registryID)
	}

	// 1. PATH lookup of the configured command basename.
	if path, err := exec.LookPath(entry.Command); err == nil {
		return &Invocation{Command: path, Args: entry.Argv, Env: entry.Env}, nil
	}

	// 2. Installed-cache lookup.
	if bin := p.installedBinaryPath(entry); bin != "" {
		if _, err := os.Stat(bin); err == nil {
			return &Invocation{Command: bin, Args: nil, Env: entry.Env}, nil
		}
	}

	// 3. Binary-archive fetch for kind binary.
	if entry.Dist.Binary != nil {
		bin, err := p.installBinary(ctx, entry)
		if err == nil {
			return &Invocation{Command: bin, Env: entry.Env}, nil
		}
		p.log.Warn("binary provisioning failed, trying further fallbacks",
			zap.String("agent", registryID), zap.Error(err))
	}

	// 4. npx fallback for kind npx.
	if entry.Dist.Npx != nil {
		if npxPath, err := exec.LookPath(npxBinaryName()); err == nil {
			args := append([]string{"-y", entry.Dist.Npx.Package}, entry.Dist.Npx.Argv...)
			args = append(args, entry.Argv...)
			return &Invocation{Command: npxPath, Args: args, Env: entry.Env}, nil
		}
	}

	// 5. Fallback: configured command+argv unchanged.
	return &Invocation{Command: entry.Command, Args: entry.Argv, Env: entry.Env}, nil
}

func (p *Provisioner) installedBinaryPath(entry RegistryEntry) string {
	if entry.Dist.Binary != nil {
		return filepath.Join(p.cacheDir(entry.ID), entry.Dist.Binary.BinaryPath)
	}
	if entry.Dist.Npx != nil {
		return filepath.Join(p.cacheDir(entry.ID), "node_modules", ".bin", entry.Command)
	}
	return ""
}

func npxBinaryName() string {
	if runtime.GOOS == "windows" {
		return "npx.cmd"
	}
	return "npx"
}

func (p *Provisioner) installBinary(ctx context.Context, entry RegistryEntry) (string, error) {
	target := runtime.GOOS + "/" + runtime.GOARCH
	url, ok := entry.Dist.Binary.Targets[target]
	if !ok {
		return "", fmt.Errorf("no archive for platform %s", target)
	}

	dir := p.cacheDir(entry.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating cache dir: %w", err)
	}

	downloadCtx, cancel := context.WithTimeout(ctx, p.archiveTimeout)
	defer cancel()

	if err := fetchAndExtract(downloadCtx, url, dir); err != nil {
		return "", err
	}

	bin := filepath.Join(dir, entry.Dist.Binary.BinaryPath)
	if _, err := os.Stat(bin); err != nil {
		return "", fmt.Errorf("binary not found after extraction: %s", bin)
	}
	return bin, nil
}

// Install forces steps 3/4 ahead of time and records the install in the
// on-disk manifest.
func (p *Provisioner) Install(ctx context.Context, registryID string) error {
	entry, ok := p.registry.Get(registryID)
	if !ok {
		return fmt.Errorf("unknown agent identity %q", registryID)
	}

	switch {
	case entry.Dist.Binary != nil:
		if _, err := p.installBinary(ctx, entry); err != nil {
			return err
		}
	case entry.Dist.Npx != nil:
		if err := p.installNpmPackage(ctx, entry); err != nil {
			return err
		}
	default:
		return fmt.Errorf("agent %q has no installable distribution", registryID)
	}

	p.manifest.Add(registryID)
	return p.manifest.save(p.homeDir)
}

// Uninstall erases the cache dir and the manifest entry.
func (p *Provisioner) Uninstall(registryID string) error {
	if err := os.RemoveAll(p.cacheDir(registryID)); err != nil {
		return fmt.Errorf("removing cache dir: %w", err)
	}
	p.manifest.Remove(registryID)
	return p.manifest.save(p.homeDir)
}
