package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	path   dbus.ObjectPath
	name   string
	values []interface{}
}

type fakeConn struct {
	signals []emitted
	err     error
	closed  bool
}

func (f *fakeConn) Emit(path dbus.ObjectPath, name string, values ...interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.signals = append(f.signals, emitted{path, name, values})
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestObjectPath(t *testing.T) {
	assert.Equal(t, dbus.ObjectPath("/org/keyseq/Detector"), ObjectPath(DefaultBusName))
	assert.True(t, ObjectPath("com.example.Scanner").IsValid())
	assert.Equal(t, "com.example.Scanner.Sequence", SignalName("com.example.Scanner"))
}

func TestNotify(t *testing.T) {
	conn := &fakeConn{}
	n := newNotifier(conn, DefaultBusName, nil)

	at := time.UnixMilli(1_700_000_000_123)
	require.NoError(t, n.Notify(Signal{Sequence: "ABC123", Target: "body", Source: "evdev", DetectedAt: at}))

	require.Len(t, conn.signals, 1)
	sig := conn.signals[0]
	assert.Equal(t, dbus.ObjectPath("/org/keyseq/Detector"), sig.path)
	assert.Equal(t, "org.keyseq.Detector.Sequence", sig.name)
	assert.Equal(t, []interface{}{"ABC123", "body", "evdev", int64(1_700_000_000_123)}, sig.values)

	assert.Equal(t, uint64(1), n.Count())
	assert.Equal(t, "ABC123", n.Last().Sequence)
}

func TestNotifyError(t *testing.T) {
	conn := &fakeConn{err: errors.New("disconnected")}
	n := newNotifier(conn, DefaultBusName, nil)

	err := n.Notify(Signal{Sequence: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "org.keyseq.Detector.Sequence")
	assert.Equal(t, uint64(1), n.Count(), "failed emits are still counted")
}

func TestObjectMethods(t *testing.T) {
	n := newNotifier(&fakeConn{}, DefaultBusName, nil)
	obj := &object{n: n}

	seq, target, source, ms, derr := obj.Last()
	assert.Nil(t, derr)
	assert.Empty(t, seq)
	assert.Empty(t, target)
	assert.Empty(t, source)
	assert.Zero(t, ms)

	at := time.UnixMilli(42)
	require.NoError(t, n.Notify(Signal{Sequence: "99999", Target: "div#pos", Source: "script", DetectedAt: at}))

	seq, target, source, ms, _ = obj.Last()
	assert.Equal(t, "99999", seq)
	assert.Equal(t, "div#pos", target)
	assert.Equal(t, "script", source)
	assert.Equal(t, int64(42), ms)

	count, _ := obj.Count()
	assert.Equal(t, uint64(1), count)
}

func TestIntrospectXML(t *testing.T) {
	xml := introspectXML(DefaultBusName)
	assert.Contains(t, xml, `<interface name="org.keyseq.Detector">`)
	assert.Contains(t, xml, `<signal name="Sequence">`)
	assert.Contains(t, xml, "org.freedesktop.DBus.Introspectable")
}

func TestClose(t *testing.T) {
	conn := &fakeConn{}
	n := newNotifier(conn, DefaultBusName, nil)
	require.NoError(t, n.Close())
	assert.True(t, conn.closed)
}
