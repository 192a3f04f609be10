package proxytest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"
)

// SOCKS5 protocol constants.
const (
	socks5Version       = uint8(5)
	noAuth              = uint8(0)
	noAcceptable        = uint8(0xFF)
	connectCommand      = uint8(1)
	ipv4Address         = uint8(1)
	fqdnAddress         = uint8(3)
	ipv6Address         = uint8(4)
	successReply        = uint8(0)
	serverFailure       = uint8(1)
	commandNotSupported = uint8(7)
)

// SOCKS5Proxy is a SOCKS5 server supporting CONNECT with no authentication.
// Domain names are dialed as given, so the record shows what the client
// sent rather than a resolved address.
type SOCKS5Proxy struct {
	recorder
	ln     net.Listener
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewSOCKS5Proxy starts a SOCKS5Proxy on a loopback port. If logger is nil,
// a no-op logger is used.
func NewSOCKS5Proxy(logger *slog.Logger) (*SOCKS5Proxy, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("proxytest: listen: %w", err)
	}
	p := &SOCKS5Proxy{ln: ln, logger: discardLogger(logger)}
	p.wg.Add(1)
	go p.serve()
	return p, nil
}

// Addr returns the host:port the proxy listens on.
func (p *SOCKS5Proxy) Addr() string {
	return p.ln.Addr().String()
}

// URL returns the proxy URL with the given scheme, e.g. "socks5h://127.0.0.1:1080".
func (p *SOCKS5Proxy) URL(scheme string) string {
	return scheme + "://" + p.Addr()
}

// Close stops accepting connections and waits for the accept loop to exit.
func (p *SOCKS5Proxy) Close() error {
	err := p.ln.Close()
	p.wg.Wait()
	return err
}

func (p *SOCKS5Proxy) serve() {
	defer p.wg.Done()
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				p.logger.Error("proxytest: socks5 accept failed", "error", err)
			}
			return
		}
		go func() {
			if err := p.serveConn(conn); err != nil {
				p.logger.Debug("proxytest: socks5 connection failed", "error", err)
			}
		}()
	}
}

func (p *SOCKS5Proxy) serveConn(conn net.Conn) error {
	defer conn.Close() //nolint:errcheck // best-effort close

	var greeting [2]byte
	if _, err := io.ReadFull(conn, greeting[:]); err != nil {
		return fmt.Errorf("read greeting: %w", err)
	}
	if greeting[0] != socks5Version {
		return fmt.Errorf("unsupported SOCKS version: %d", greeting[0])
	}
	methods := make([]byte, greeting[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return fmt.Errorf("read methods: %w", err)
	}
	hasNoAuth := false
	for _, m := range methods {
		if m == noAuth {
			hasNoAuth = true
			break
		}
	}
	if !hasNoAuth {
		_, _ = conn.Write([]byte{socks5Version, noAcceptable})
		return errors.New("no acceptable auth method")
	}
	if _, err := conn.Write([]byte{socks5Version, noAuth}); err != nil {
		return fmt.Errorf("send greeting: %w", err)
	}

	command, target, err := readRequest(conn)
	if err != nil {
		_ = sendReply(conn, serverFailure)
		return err
	}
	if command != connectCommand {
		_ = sendReply(conn, commandNotSupported)
		return fmt.Errorf("unsupported command: %d", command)
	}
	p.add(Record{Method: "SOCKS5", Target: target})

	targetConn, err := net.DialTimeout("tcp", target, 5*time.Second)
	if err != nil {
		_ = sendReply(conn, serverFailure)
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer targetConn.Close() //nolint:errcheck // best-effort close

	if err := sendReply(conn, successReply); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	halfClose := func(c net.Conn) {
		if cw, ok := c.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
	}
	go func() {
		defer wg.Done()
		_, _ = io.Copy(targetConn, conn)
		halfClose(targetConn)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(conn, targetConn)
		halfClose(conn)
	}()
	wg.Wait()
	return nil
}

// readRequest parses a SOCKS5 request and returns its command and the
// destination as host:port.
func readRequest(r io.Reader) (uint8, string, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, "", fmt.Errorf("read request header: %w", err)
	}
	if header[0] != socks5Version {
		return 0, "", fmt.Errorf("unsupported version in request: %d", header[0])
	}

	var host string
	switch header[3] {
	case ipv4Address, ipv6Address:
		size := net.IPv4len
		if header[3] == ipv6Address {
			size = net.IPv6len
		}
		ip := make(net.IP, size)
		if _, err := io.ReadFull(r, ip); err != nil {
			return 0, "", fmt.Errorf("read IP address: %w", err)
		}
		host = ip.String()
	case fqdnAddress:
		var n [1]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return 0, "", fmt.Errorf("read FQDN length: %w", err)
		}
		fqdn := make([]byte, n[0])
		if _, err := io.ReadFull(r, fqdn); err != nil {
			return 0, "", fmt.Errorf("read FQDN: %w", err)
		}
		host = string(fqdn)
	default:
		return 0, "", fmt.Errorf("unsupported address type: %d", header[3])
	}

	var port [2]byte
	if _, err := io.ReadFull(r, port[:]); err != nil {
		return 0, "", fmt.Errorf("read port: %w", err)
	}
	target := net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(port[:]))))
	return header[1], target, nil
}

// sendReply writes a SOCKS5 reply with a zero bind address.
func sendReply(w io.Writer, status uint8) error {
	_, err := w.Write([]byte{
		socks5Version, status, 0x00, ipv4Address,
		0, 0, 0, 0,
		0, 0,
	})
	return err
}
