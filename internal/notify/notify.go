// Package notify announces detected sequences on the D-Bus session bus.
//
// Each detection is emitted as a Sequence signal on the interface named
// after the bus name, from the object path derived from it:
//
//	org.keyseq.Detector -> /org/keyseq/Detector, org.keyseq.Detector.Sequence
//
// The object also answers Last and Count so clients can poll instead of
// listening.
package notify

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

// DefaultBusName is the well-known name requested when none is configured.
const DefaultBusName = "org.keyseq.Detector"

// ErrNameTaken is returned when another process owns the bus name.
var ErrNameTaken = errors.New("bus name already taken")

// Signal is the payload of one Sequence signal.
type Signal struct {
	Sequence   string
	Target     string
	Source     string
	DetectedAt time.Time
}

// emitter is the part of *dbus.Conn the notifier needs.
type emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
	Close() error
}

// Notifier emits Sequence signals and serves the detector object.
type Notifier struct {
	conn emitter
	name string
	path dbus.ObjectPath
	log  *slog.Logger

	mu    sync.Mutex
	last  Signal
	count uint64
}

// ObjectPath derives the object path for a bus name.
func ObjectPath(name string) dbus.ObjectPath {
	return dbus.ObjectPath("/" + strings.ReplaceAll(name, ".", "/"))
}

// SignalName is the fully qualified Sequence signal for a bus name.
func SignalName(name string) string {
	return name + ".Sequence"
}

func introspectXML(name string) string {
	return `<node>
	<interface name="` + name + `">
		<method name="Last">
			<arg name="sequence" type="s" direction="out"/>
			<arg name="target" type="s" direction="out"/>
			<arg name="source" type="s" direction="out"/>
			<arg name="detected_ms" type="x" direction="out"/>
		</method>
		<method name="Count">
			<arg name="count" type="t" direction="out"/>
		</method>
		<signal name="Sequence">
			<arg name="sequence" type="s"/>
			<arg name="target" type="s"/>
			<arg name="source" type="s"/>
			<arg name="detected_ms" type="x"/>
		</signal>
	</interface>` + introspect.IntrospectDataString + `</node>`
}

// Connect opens a private session bus connection, claims name and exports
// the detector object.
func Connect(name string, logger *slog.Logger) (*Notifier, error) {
	if name == "" {
		name = DefaultBusName
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	reply, err := conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", name, ErrNameTaken)
	}

	n := newNotifier(conn, name, logger)
	obj := &object{n: n}
	if err := conn.Export(obj, n.path, name); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export detector object: %w", err)
	}
	if err := conn.Export(introspect.Introspectable(introspectXML(name)), n.path,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	n.log.Info("dbus notifier ready", "name", name, "path", string(n.path))
	return n, nil
}

func newNotifier(conn emitter, name string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Notifier{
		conn: conn,
		name: name,
		path: ObjectPath(name),
		log:  logger,
	}
}

// Notify emits a Sequence signal for s.
func (n *Notifier) Notify(s Signal) error {
	n.mu.Lock()
	n.last = s
	n.count++
	n.mu.Unlock()

	err := n.conn.Emit(n.path, SignalName(n.name), s.Sequence, s.Target, s.Source, s.DetectedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("emit %s: %w", SignalName(n.name), err)
	}
	return nil
}

// Count is the number of signals emitted.
func (n *Notifier) Count() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

// Last is the most recent signal.
func (n *Notifier) Last() Signal {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

// Close releases the bus connection.
func (n *Notifier) Close() error {
	return n.conn.Close()
}

// object carries the exported D-Bus methods.
type object struct {
	n *Notifier
}

// Last returns the most recent detection.
func (o *object) Last() (string, string, string, int64, *dbus.Error) {
	s := o.n.Last()
	if s.DetectedAt.IsZero() {
		return "", "", "", 0, nil
	}
	return s.Sequence, s.Target, s.Source, s.DetectedAt.UnixMilli(), nil
}

// Count returns the number of detections announced.
func (o *object) Count() (uint64, *dbus.Error) {
	return o.n.Count(), nil
}
