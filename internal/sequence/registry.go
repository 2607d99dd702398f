package sequence

import "sync"

// Registry admits at most one active detector at a time.
type Registry struct {
	mu     sync.Mutex
	active *Detector
}

// Install returns the active detector if there is one, with installed set
// to false; cfg is then neither validated nor applied. Otherwise it builds
// a detector from cfg, attaches it to src and makes it active. Closing the
// detector frees the slot.
func (r *Registry) Install(src Source, cfg Config, opts ...Option) (d *Detector, installed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return r.active, false, nil
	}

	d, err = New(cfg, opts...)
	if err != nil {
		return nil, false, err
	}
	d.onClose = func() { r.release(d) }
	if err := d.Attach(src); err != nil {
		return nil, false, err
	}
	r.active = d
	return d, true, nil
}

// Active returns the active detector, or nil.
func (r *Registry) Active() *Detector {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Registry) release(d *Detector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == d {
		r.active = nil
	}
}
