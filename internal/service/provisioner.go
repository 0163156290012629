package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"log"

	"github.com/haatos/verify-ci/internal/store"
)

type CacheFetcher interface {
	Fetch(ctx context.Context, key string) (*store.CacheEntry, bool, error)
}

// Environment is a provisioned workspace with its dependency cache state.
type Environment struct {
	Workspace
	ManifestHash string
	CacheHit     bool
}

type Provisioner struct {
	materializer Materializer
	cache        CacheFetcher
	repository   string
	manifests    []string
}

func NewProvisioner(
	materializer Materializer,
	cache CacheFetcher,
	repository string,
	manifests []string,
) *Provisioner {
	return &Provisioner{
		materializer: materializer,
		cache:        cache,
		repository:   repository,
		manifests:    manifests,
	}
}

// Provision checks revision out and restores the dependency cache for
// manifestHash, computing the hash from the manifest files when it is
// empty. Checkout failures are fatal and returned as *ProvisionError.
// Cache failures degrade to an empty cache.
func (p *Provisioner) Provision(
	ctx context.Context,
	revision, manifestHash string,
) (*Environment, error) {
	ws, err := p.materializer.Materialize(ctx, p.repository, revision)
	if err != nil {
		return nil, &ProvisionError{Revision: revision, Err: err}
	}

	if manifestHash == "" {
		manifestHash, err = p.hashManifests(ctx, ws)
		if err != nil {
			ws.Close()
			return nil, &ProvisionError{Revision: revision, Err: err}
		}
	}

	env := &Environment{Workspace: ws, ManifestHash: manifestHash}
	ce, ok, err := p.cache.Fetch(ctx, manifestHash)
	if err != nil {
		log.Printf("err fetching cache for %s, continuing without: %+v\n", revision, err)
		return env, nil
	}
	if !ok {
		return env, nil
	}
	if err := ws.RestoreCache(ctx, ce.Blob); err != nil {
		log.Printf("err restoring cache %s, continuing without: %+v\n", manifestHash, err)
		return env, nil
	}
	env.CacheHit = true
	return env, nil
}

// hashManifests digests the configured manifest files in order. Missing
// manifests contribute only their name.
func (p *Provisioner) hashManifests(ctx context.Context, ws Workspace) (string, error) {
	h := sha256.New()
	for _, name := range p.manifests {
		h.Write([]byte(name))
		h.Write([]byte{0})
		b, err := ws.ReadFile(ctx, name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		h.Write(b)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
