package network

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"math/big"
	"net"
	"time"

	quic "github.com/quic-go/quic-go"

	"xornet/internal/debuglog"
	"xornet/internal/protocol"
)

const (
	alpnProtocol         = "xornet-quic"
	maxIdleTimeout       = 30 * time.Second
	keepAlivePeriod      = 10 * time.Second
	handshakeIdleTimeout = 5 * time.Second
)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// devTLSCert builds the deterministic development certificate. Peer
// authenticity is not a transport property in this network; data is
// verified by content and signature at the protocol layer.
func devTLSCert() (tls.Certificate, []byte, error) {
	seed := sha256.Sum256([]byte("xornet-quic-dev-key"))
	priv := ed25519.NewKeyFromSeed(seed[:])
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(zeroReader{}, &template, &template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}
	return cert, der, nil
}

func serverTLSConfig() (*tls.Config, error) {
	cert, _, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProtocol},
	}, nil
}

func clientTLSConfig(insecure bool) (*tls.Config, error) {
	if insecure {
		return &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{alpnProtocol},
		}, nil
	}
	_, der, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return &tls.Config{
		RootCAs:    pool,
		NextProtos: []string{alpnProtocol},
	}, nil
}

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:       maxIdleTimeout,
		KeepAlivePeriod:      keepAlivePeriod,
		HandshakeIdleTimeout: handshakeIdleTimeout,
	}
}

func writeFrameWithTimeout(stream *quic.Stream, timeout time.Duration, payload []byte) error {
	_ = stream.SetWriteDeadline(time.Now().Add(timeout))
	return protocol.WriteFrame(stream, payload)
}

func readFrameWithTimeout(stream *quic.Stream, timeout time.Duration) ([]byte, error) {
	_ = stream.SetReadDeadline(time.Now().Add(timeout))
	return protocol.ReadFrame(stream)
}

// exchange performs one framed request/response round trip on a
// pooled connection, retrying with backoff on transport failures.
func (n *Network) exchange(ctx context.Context, addr string, payload []byte) ([]byte, error) {
	tlsConf, err := clientTLSConfig(n.insecure)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var lastErr error
	for attempt := 0; attempt <= clientMaxRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ctx.Err()
		}
		conn, err := n.pool.get(ctx, addr, tlsConf, quicConfig())
		if err != nil {
			lastErr = err
			if !backoffRetry(ctx, n.pool.recordFailure(addr)) {
				break
			}
			continue
		}
		stream, err := conn.OpenStreamSync(ctx)
		if err != nil {
			lastErr = err
			n.pool.drop(addr, conn, "open stream failed")
			if !backoffRetry(ctx, n.pool.recordFailure(addr)) {
				break
			}
			continue
		}
		if err := writeFrameWithTimeout(stream, streamRWTimeout, payload); err != nil {
			lastErr = err
			_ = stream.Close()
			n.pool.drop(addr, conn, "write failed")
			if !backoffRetry(ctx, n.pool.recordFailure(addr)) {
				break
			}
			continue
		}
		resp, err := readFrameWithTimeout(stream, streamRWTimeout)
		if err != nil {
			lastErr = err
			_ = stream.Close()
			n.pool.drop(addr, conn, "read failed")
			if !backoffRetry(ctx, n.pool.recordFailure(addr)) {
				break
			}
			continue
		}
		_ = stream.Close()
		n.pool.touch(addr, conn)
		n.pool.resetFailures(addr)
		return resp, nil
	}
	if lastErr == nil {
		lastErr = errors.New("exchange failed")
	}
	return nil, lastErr
}

// listenAndServe accepts connections and serves one framed
// request/response per stream until the listener fails.
func (n *Network) listenAndServe(addr string, ready chan<- string) error {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return err
	}
	listener, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		debuglog.Logf("quic listen error: %v", err)
		return err
	}
	bound := listener.Addr().String()
	debuglog.Logf("quic listen ready: %s", bound)
	n.events.Publish(Event{NewListenAddr: &bound})
	if ready != nil {
		ready <- bound
		close(ready)
	}
	for {
		conn, err := listener.Accept(context.Background())
		if err != nil {
			debuglog.Logf("quic accept error: %v", err)
			return err
		}
		go func(c *quic.Conn) {
			for {
				stream, err := c.AcceptStream(context.Background())
				if err != nil {
					debuglog.Debugf("quic accept stream error: %v", err)
					return
				}
				go func(s *quic.Stream) {
					defer s.Close()
					payload, err := readFrameWithTimeout(s, streamRWTimeout)
					if err != nil {
						debuglog.Debugf("quic read error: %v", err)
						return
					}
					reply := n.serveFrame(payload)
					if reply == nil {
						return
					}
					if err := writeFrameWithTimeout(s, streamRWTimeout, reply); err != nil {
						debuglog.Debugf("quic write error: %v", err)
					}
				}(stream)
			}
		}(conn)
	}
}
