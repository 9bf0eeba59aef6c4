package sender_test

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/dgramfire/internal/sender"
)

var (
	errBoom     = errors.New("boom")
	errDeadline = errors.New("deadline unsupported")
)

// stubResolver answers every lookup with addrs, or blocks until ctx is done
// when block is set.
type stubResolver struct {
	addrs []net.IPAddr
	block bool
}

func (r stubResolver) LookupIPAddr(ctx context.Context, _ string) ([]net.IPAddr, error) {
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.addrs, nil
}

// trackedConn counts Close calls and optionally fails writes.
type trackedConn struct {
	net.Conn

	failWrite    bool
	failDeadline bool
	closed       *atomic.Int32
}

func (c *trackedConn) Write(b []byte) (int, error) {
	if c.failWrite {
		return 0, errBoom
	}
	return len(b), nil
}

func (c *trackedConn) SetWriteDeadline(time.Time) error {
	if c.failDeadline {
		return errDeadline
	}
	return nil
}

func (c *trackedConn) Close() error {
	c.closed.Add(1)
	return nil
}

func listen(t *testing.T) (*net.UDPConn, sender.Destination) {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	require.True(t, ok)

	return conn, sender.Destination{Host: "127.0.0.1", Port: addr.Port}
}

func TestSendDeliversDatagram(t *testing.T) {
	t.Parallel()

	listener, dst := listen(t)
	payload := sender.BuildPayload("hello", 512)

	udp, err := sender.NewUDPSender(payload)
	require.NoError(t, err)

	n, err := udp.Send(t.Context(), dst)
	require.NoError(t, err)
	assert.Equal(t, 512, n)

	require.NoError(t, listener.SetReadDeadline(time.Now().Add(2*time.Second)))

	buf := make([]byte, sender.MaxPayloadSize)
	read, _, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:read])
}

func TestSendUnresolvableHost(t *testing.T) {
	t.Parallel()

	udp, err := sender.NewUDPSender([]byte("x"))
	require.NoError(t, err)

	dst := sender.Destination{Host: "no-such-host.invalid", Port: 9999}

	for range 3 {
		n, err := udp.Send(t.Context(), dst)

		var serr *sender.SendError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, sender.OpDial, serr.Op)
		assert.Equal(t, dst, serr.Destination)
		assert.Zero(t, n)
	}
}

func TestSendReleasesSocketOnEveryPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		failWrite    bool
		failDeadline bool
		wantErr      bool
	}{
		{name: "success", failWrite: false, wantErr: false},
		{name: "write failure", failWrite: true, wantErr: true},
		{name: "deadline failure", failDeadline: true, wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			var closed atomic.Int32

			dial := func(_ context.Context, _ string) (net.Conn, error) {
				return &trackedConn{failWrite: test.failWrite, failDeadline: test.failDeadline, closed: &closed}, nil
			}

			udp, err := sender.NewUDPSender([]byte("payload"), sender.WithDialer(dial))
			require.NoError(t, err)

			_, err = udp.Send(t.Context(), sender.Destination{Host: "127.0.0.1", Port: 1})

			if test.wantErr {
				if test.failDeadline {
					require.ErrorIs(t, err, errDeadline)
				} else {
					require.ErrorIs(t, err, errBoom)
				}

				var serr *sender.SendError
				require.ErrorAs(t, err, &serr)
				assert.Equal(t, sender.OpWrite, serr.Op)
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, int32(1), closed.Load())
		})
	}
}

func TestSendWithSourceResolvesMatchingFamily(t *testing.T) {
	t.Parallel()

	listener, dst := listen(t)
	resolver := stubResolver{addrs: []net.IPAddr{{IP: net.IPv6loopback}, {IP: net.IPv4(127, 0, 0, 1)}}}

	udp, err := sender.NewUDPSender([]byte("sourced"),
		sender.WithSource("127.0.0.1:0"),
		sender.WithResolver(resolver),
	)
	require.NoError(t, err)

	_, err = udp.Send(t.Context(), sender.Destination{Host: "loopback.test", Port: dst.Port})
	require.NoError(t, err)

	require.NoError(t, listener.SetReadDeadline(time.Now().Add(2*time.Second)))

	buf := make([]byte, 64)
	read, _, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "sourced", string(buf[:read]))
}

func TestSendWithSourceHonorsTimeoutWhileResolving(t *testing.T) {
	t.Parallel()

	udp, err := sender.NewUDPSender([]byte("x"),
		sender.WithSource("127.0.0.1:0"),
		sender.WithTimeout(50*time.Millisecond),
		sender.WithResolver(stubResolver{block: true}),
	)
	require.NoError(t, err)

	start := time.Now()
	_, err = udp.Send(t.Context(), sender.Destination{Host: "slow.test", Port: 9999})

	assert.Less(t, time.Since(start), time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	var serr *sender.SendError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, sender.OpDial, serr.Op)
}

func TestSendDialFailureIsWrapped(t *testing.T) {
	t.Parallel()

	dial := func(_ context.Context, _ string) (net.Conn, error) {
		return nil, errBoom
	}

	udp, err := sender.NewUDPSender([]byte("payload"), sender.WithDialer(dial))
	require.NoError(t, err)

	_, err = udp.Send(t.Context(), sender.Destination{Host: "127.0.0.1", Port: 1})

	require.ErrorIs(t, err, errBoom)
	assert.EqualError(t, err, "send dial 127.0.0.1:1: boom")
}

func TestNewUDPSenderValidatesPayload(t *testing.T) {
	t.Parallel()

	_, err := sender.NewUDPSender(nil)
	require.ErrorIs(t, err, sender.ErrEmptyPayload)

	_, err = sender.NewUDPSender(make([]byte, sender.MaxPayloadSize+1))
	require.ErrorIs(t, err, sender.ErrPayloadTooLarge)

	udp, err := sender.NewUDPSender(make([]byte, sender.MaxPayloadSize))
	require.NoError(t, err)
	assert.Equal(t, sender.MaxPayloadSize, udp.PayloadSize())
}

func TestBuildPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		message string
		size    int
		want    string
	}{
		{name: "exact", message: "abc", size: 3, want: "abc"},
		{name: "repeated", message: "abc", size: 7, want: "abcabca"},
		{name: "truncated", message: "abcdef", size: 4, want: "abcd"},
		{name: "default message", message: "", size: 4, want: sender.DefaultMessage[:4]},
		{name: "zero size", message: "abc", size: 0, want: ""},
	}

	for _, test := range tests {
		got := sender.BuildPayload(test.message, test.size)

		assert.Equal(t, test.want, string(got), test.name)
	}

	big := sender.BuildPayload(sender.DefaultMessage, sender.DefaultPayloadSize)
	assert.Len(t, big, sender.DefaultPayloadSize)
	assert.True(t, strings.HasPrefix(string(big), sender.DefaultMessage))
}

func TestDestination(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "127.0.0.1:9999", sender.Destination{Host: "127.0.0.1", Port: 9999}.String())
	assert.Equal(t, "[::1]:53", sender.Destination{Host: "::1", Port: 53}.String())

	require.NoError(t, sender.Destination{Host: "localhost", Port: 0}.Validate())
	require.ErrorIs(t, sender.Destination{Host: " ", Port: 1}.Validate(), sender.ErrMissingHost)
	require.ErrorIs(t, sender.Destination{Host: "h", Port: 65536}.Validate(), sender.ErrInvalidPort)
	require.ErrorIs(t, sender.Destination{Host: "h", Port: -1}.Validate(), sender.ErrInvalidPort)
}
