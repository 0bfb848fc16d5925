package comm

import (
	"context"
	"sync"
)

// Resource is the exclusively owned transport of one driver instance.
type Resource struct {
	opener Opener

	mu   sync.Mutex
	port Port
}

// NewResource creates an unacquired resource.
func NewResource(opener Opener) *Resource {
	return &Resource{opener: opener}
}

// Acquire opens the transport.
func (r *Resource) Acquire(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.port != nil {
		return ErrAlreadyOpen
	}
	port, err := r.opener.Open(ctx)
	if err != nil {
		return err
	}
	r.port = port
	return nil
}

// Port returns the open transport or ErrNotOpen.
func (r *Resource) Port() (Port, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.port == nil {
		return nil, ErrNotOpen
	}
	return r.port, nil
}

// Held reports whether the transport is open.
func (r *Resource) Held() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.port != nil
}

// Release closes the transport. It is a no-op when nothing is held.
func (r *Resource) Release() error {
	r.mu.Lock()
	port := r.port
	r.port = nil
	r.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}

// String describes the underlying transport.
func (r *Resource) String() string {
	return r.opener.String()
}
