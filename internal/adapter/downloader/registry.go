// Package downloader runs external download tools for job URLs.
package downloader

import "github.com/cwygoda/haul/internal/domain"

// Registry holds the configured downloaders and a fallback.
type Registry struct {
	downloaders []domain.Downloader
	fallback    domain.Downloader
}

// NewRegistry creates a registry that falls back to fallback when nothing
// registered matches.
func NewRegistry(fallback domain.Downloader) *Registry {
	return &Registry{fallback: fallback}
}

// Register adds a downloader. Earlier registrations win.
func (r *Registry) Register(d domain.Downloader) {
	r.downloaders = append(r.downloaders, d)
}

// Match returns the first downloader that matches the URL, or the fallback.
func (r *Registry) Match(url string) domain.Downloader {
	for _, d := range r.downloaders {
		if d.Match(url) {
			return d
		}
	}
	return r.fallback
}

// Downloaders returns all registered downloaders, without the fallback.
func (r *Registry) Downloaders() []domain.Downloader {
	return r.downloaders
}
