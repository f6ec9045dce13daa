package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/alvmarrod/retrospect/internal/storage"
)

// Registry holds artifact metadata in memory for ephemeral runs and tests.
// It mirrors the lookup semantics of storage.Storage.
type Registry struct {
	artifacts map[string]*storage.Artifact // "domain\x00digest" -> artifact
	order     []string                     // keys in discovery order
	seq       int64
	mu        sync.RWMutex
}

// NewRegistry creates an empty in-memory registry
func NewRegistry() *Registry {
	return &Registry{
		artifacts: make(map[string]*storage.Artifact),
	}
}

// LookupArtifact retrieves an artifact by domain and digest, returns nil if not found
func (r *Registry) LookupArtifact(domain, digest string) (*storage.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if a, exists := r.artifacts[key(domain, digest)]; exists {
		// Return a copy to prevent external modifications
		artifactCopy := *a
		return &artifactCopy, nil
	}

	return nil, nil
}

// RecordArtifact inserts an artifact or refreshes its file metadata if the digest is known.
// Empty source URLs of an existing entry are filled in.
func (r *Registry) RecordArtifact(a storage.Artifact) error {
	if a.Domain == "" || a.Digest == "" {
		return fmt.Errorf("artifact requires domain and digest")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(a.Domain, a.Digest)
	if existing, exists := r.artifacts[k]; exists {
		existing.FileName = a.FileName
		existing.Size = a.Size
		if existing.OriginalURL == "" {
			existing.OriginalURL = a.OriginalURL
		}
		if existing.ArchiveURL == "" {
			existing.ArchiveURL = a.ArchiveURL
		}
		return nil
	}

	r.seq++
	a.Seq = r.seq
	a.StoredAt = time.Now()
	r.artifacts[k] = &a
	r.order = append(r.order, k)

	return nil
}

// ListArtifacts returns all artifacts of a domain in discovery order
func (r *Registry) ListArtifacts(domain string) ([]storage.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []storage.Artifact
	for _, k := range r.order {
		if a := r.artifacts[k]; a.Domain == domain {
			out = append(out, *a)
		}
	}
	return out, nil
}

func key(domain, digest string) string {
	return domain + "\x00" + digest
}
