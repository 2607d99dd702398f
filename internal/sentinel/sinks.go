package sentinel

import (
	"fmt"
	"io"
	"sync"

	"keyseq/internal/notify"
	"keyseq/internal/store"
)

// Sink receives every detection the daemon makes.
type Sink interface {
	Name() string
	Deliver(d *store.Detection) error
}

// StoreSink records detections in the history database.
type StoreSink struct {
	Store *store.Store
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Deliver(d *store.Detection) error {
	return s.Store.InsertDetection(d)
}

// NotifySink broadcasts detections on D-Bus.
type NotifySink struct {
	Notifier *notify.Notifier
}

func (s *NotifySink) Name() string { return "dbus" }

func (s *NotifySink) Deliver(d *store.Detection) error {
	return s.Notifier.Notify(notify.Signal{
		Sequence:   d.Sequence,
		Target:     d.Target,
		Source:     d.Source,
		DetectedAt: d.DetectedAt,
	})
}

// WriterSink prints one sequence per line.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink printing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Name() string { return "print" }

func (s *WriterSink) Deliver(d *store.Detection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, d.Sequence)
	return err
}
