// Package backend provides the interchangeable extraction backend adapters
// and the capability registry that maps backend tokens to implementations
// and availability probes.
package backend

import (
	"fmt"
	"os/exec"

	"github.com/gearfacts/doc-extractor/internal/engine"
)

// Error wraps a backend failure with the token and operation that produced
// it.
type Error struct {
	Token string
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s backend error in %s: %v", e.Token, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Probe reports whether a backend's runtime prerequisites are present.
// Probes run once, at registry construction.
type Probe func() bool

// fingerprinter is implemented by backends that can produce the cheap
// aggregate document signals used for selection and scan detection.
type fingerprinter interface {
	Fingerprint(path string, maxPages int) (engine.Fingerprint, error)
}

type entry struct {
	backend engine.Backend
	probe   Probe
}

// Registry maps backend tokens to implementations plus availability,
// populated at startup. Selection logic upstream operates purely over
// tokens and booleans.
type Registry struct {
	entries   map[string]entry
	available map[string]bool

	// fingerprint preference: cheapest scanner that reports tables first.
	fingerprintOrder []string
}

// NewRegistry builds the default registry with every compiled-in backend
// and its availability probe.
func NewRegistry() *Registry {
	r := &Registry{
		entries:          make(map[string]entry),
		available:        make(map[string]bool),
		fingerprintOrder: []string{engine.BackendGrid, engine.BackendPDFText},
	}

	alwaysOn := func() bool { return true }

	r.register(NewPDFTextBackend(), alwaysOn)
	r.register(NewGridBackend(), alwaysOn)
	r.register(NewPDFCPUBackend(), alwaysOn)
	r.register(NewDocconvBackend(), func() bool {
		// docconv shells out to poppler's pdftotext for PDF input.
		_, err := exec.LookPath("pdftotext")
		return err == nil
	})

	return r
}

func (r *Registry) register(b engine.Backend, probe Probe) {
	r.entries[b.Token()] = entry{backend: b, probe: probe}
	r.available[b.Token()] = probe()
}

// Lookup resolves a token to its backend implementation.
func (r *Registry) Lookup(token string) (engine.Backend, bool) {
	e, ok := r.entries[token]
	if !ok {
		return nil, false
	}
	return e.backend, true
}

// Available returns the availability map computed at construction.
func (r *Registry) Available() map[string]bool {
	out := make(map[string]bool, len(r.available))
	for token, ok := range r.available {
		out[token] = ok
	}
	return out
}

// Fingerprint runs a cheap bounded pass over the document using the first
// available backend capable of producing text and table counts.
func (r *Registry) Fingerprint(path string, maxPages int) (engine.Fingerprint, error) {
	var lastErr error
	for _, token := range r.fingerprintOrder {
		if !r.available[token] {
			continue
		}
		fp, ok := r.entries[token].backend.(fingerprinter)
		if !ok {
			continue
		}
		result, err := fp.Fingerprint(path, maxPages)
		if err != nil {
			lastErr = &Error{Token: token, Op: "fingerprint", Err: err}
			continue
		}
		return result, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no fingerprint-capable backend available")
	}
	return engine.Fingerprint{}, lastErr
}
