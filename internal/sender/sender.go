// Package sender transmits single datagrams to a destination.
//
// Every Send acquires its own socket and releases it before returning, on
// success and on every error path. Nothing is shared between calls, so a
// Sender is safe for concurrent use by any number of workers.
package sender

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/libp2p/go-reuseport"
	"github.com/therenotomorrow/ex"
)

const (
	// DefaultPayloadSize is the default datagram size in bytes.
	DefaultPayloadSize = 9096
	// MaxPayloadSize is the largest UDP payload over IPv4.
	MaxPayloadSize = 65507
	// DefaultMessage is the textual payload repeated to fill a datagram.
	DefaultMessage = "UDP traffic test"
	// DefaultTimeout bounds a single dial+write attempt.
	DefaultTimeout = time.Second

	network = "udp"
)

const (
	ErrEmptyPayload    = ex.Error("payload is empty")
	ErrPayloadTooLarge = ex.Error("payload exceeds maximum datagram size")
	ErrInvalidPort     = ex.Error("port out of range")
	ErrMissingHost     = ex.Error("host is missing")
)

// Destination is the immutable target of every datagram in a run.
type Destination struct {
	Host string
	Port int
}

func (d Destination) String() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Validate checks the host is present and the port fits in 16 bits.
func (d Destination) Validate() error {
	if strings.TrimSpace(d.Host) == "" {
		return ErrMissingHost
	}
	if d.Port < 0 || d.Port > 65535 {
		return ErrInvalidPort.Reason(strconv.Itoa(d.Port))
	}
	return nil
}

// Op identifies the phase of a send attempt.
type Op string

const (
	OpDial  Op = "dial"
	OpWrite Op = "write"
)

// SendError reports a failed send attempt. It is never fatal.
type SendError struct {
	Destination Destination
	Op          Op
	Err         error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s %s: %v", e.Op, e.Destination, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Sender transmits one payload per call and returns the bytes written.
type Sender interface {
	Send(ctx context.Context, dst Destination) (int, error)
}

// DialFunc opens a connected datagram socket to address.
type DialFunc func(ctx context.Context, address string) (net.Conn, error)

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Option configures a UDPSender.
type Option func(s *UDPSender)

// WithTimeout bounds each attempt's dial and write.
func WithTimeout(d time.Duration) Option {
	return func(s *UDPSender) {
		s.timeout = d
	}
}

// WithSource binds every socket to source (host:port) with SO_REUSEPORT so
// concurrent workers can share one local address.
func WithSource(source string) Option {
	return func(s *UDPSender) {
		s.source = strings.TrimSpace(source)
	}
}

// WithResolver replaces the resolver used before source-bound dials.
func WithResolver(r Resolver) Option {
	return func(s *UDPSender) {
		s.resolver = r
	}
}

// WithDialer replaces the socket dialer.
func WithDialer(dial DialFunc) Option {
	return func(s *UDPSender) {
		s.dial = dial
	}
}

// UDPSender sends a fixed payload over a fresh UDP socket per call.
type UDPSender struct {
	payload  []byte
	timeout  time.Duration
	source   string
	dial     DialFunc
	resolver Resolver
}

// NewUDPSender returns a sender for payload. The payload is not copied.
func NewUDPSender(payload []byte, opts ...Option) (*UDPSender, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge.Reason(strconv.Itoa(len(payload)))
	}

	s := &UDPSender{
		payload: payload,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.dial == nil {
		s.dial = s.defaultDial
	}
	if s.resolver == nil {
		s.resolver = net.DefaultResolver
	}

	return s, nil
}

// PayloadSize returns the datagram size in bytes.
func (s *UDPSender) PayloadSize() int {
	return len(s.payload)
}

// Send dials dst, writes the payload once and closes the socket.
func (s *UDPSender) Send(ctx context.Context, dst Destination) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	conn, err := s.dial(ctx, dst.String())
	if err != nil {
		return 0, &SendError{Destination: dst, Op: OpDial, Err: err}
	}
	defer conn.Close()

	if s.timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			return 0, &SendError{Destination: dst, Op: OpWrite, Err: err}
		}
	}

	n, err := conn.Write(s.payload)
	if err != nil {
		return n, &SendError{Destination: dst, Op: OpWrite, Err: err}
	}

	return n, nil
}

func (s *UDPSender) defaultDial(ctx context.Context, address string) (net.Conn, error) {
	if s.source != "" {
		// reuseport.Dial takes no context, so resolve under ctx first and hand
		// it a literal address.
		resolved, err := s.resolve(ctx, address)
		if err != nil {
			return nil, err
		}
		return reuseport.Dial(network, s.source, resolved)
	}

	dialer := net.Dialer{Timeout: s.timeout}
	return dialer.DialContext(ctx, network, address)
}

func (s *UDPSender) resolve(ctx context.Context, address string) (string, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", err
	}
	if net.ParseIP(host) != nil {
		return address, nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	addrs, err := s.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", err
	}
	ip := pickAddr(addrs, s.source)
	if ip == nil {
		return "", &net.DNSError{Err: "no address matching source family", Name: host, IsNotFound: true}
	}
	return net.JoinHostPort(ip.String(), port), nil
}

// pickAddr returns the first address in the same family as source, or the
// first address when source has no literal IP.
func pickAddr(addrs []net.IPAddr, source string) net.IP {
	srcHost, _, err := net.SplitHostPort(source)
	srcIP := net.ParseIP(srcHost)
	if err != nil || srcIP == nil || srcIP.IsUnspecified() {
		if len(addrs) == 0 {
			return nil
		}
		return addrs[0].IP
	}

	wantV4 := srcIP.To4() != nil
	for _, addr := range addrs {
		if (addr.IP.To4() != nil) == wantV4 {
			return addr.IP
		}
	}
	return nil
}

// BuildPayload repeats message until the payload is exactly size bytes.
func BuildPayload(message string, size int) []byte {
	if size <= 0 {
		return nil
	}
	if message == "" {
		message = DefaultMessage
	}

	payload := make([]byte, size)
	for off := 0; off < size; {
		off += copy(payload[off:], message)
	}
	return payload
}
