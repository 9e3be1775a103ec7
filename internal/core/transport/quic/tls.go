package quic

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/dep2p/go-chanfetch/internal/core/identity"
	"github.com/dep2p/go-chanfetch/internal/core/transport"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

// ALPN 协议标识
const ALPN = "chanfetch/1"

var errNoPeerCert = errors.New("quic: peer presented no certificate")

// newTLSConfig 用节点私钥生成自签名证书
//
// PeerID 由证书公钥派生，不依赖 CA；expect 非空时校验对端身份。
func newTLSConfig(id *identity.Identity, expect types.PeerID) (*tls.Config, error) {
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: "chanfetch " + id.ID().String()},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(180 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, id.PublicKey(), id.PrivateKey())
	if err != nil {
		return nil, fmt.Errorf("quic: create certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: id.PrivateKey()}},
		NextProtos:   []string{ALPN},
		// 自签名证书没有 CA，身份由 VerifyPeerCertificate 从公钥派生校验
		InsecureSkipVerify: true,
		ClientAuth:         tls.RequireAnyClientCert,
		MinVersion:         tls.VersionTLS13,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			got, err := peerIDFromRawCerts(rawCerts)
			if err != nil {
				return err
			}
			if expect != types.EmptyPeerID && got != expect {
				return fmt.Errorf("%w: expected %s, got %s", transport.ErrPeerIDMismatch, expect.ShortString(), got.ShortString())
			}
			return nil
		},
	}, nil
}

// peerIDFromRawCerts 从对端证书公钥派生 PeerID
func peerIDFromRawCerts(rawCerts [][]byte) (types.PeerID, error) {
	if len(rawCerts) == 0 {
		return types.EmptyPeerID, errNoPeerCert
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return types.EmptyPeerID, fmt.Errorf("quic: parse peer certificate: %w", err)
	}
	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return types.EmptyPeerID, fmt.Errorf("quic: peer certificate outside validity window")
	}
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return types.EmptyPeerID, fmt.Errorf("quic: unsupported peer key type %T", cert.PublicKey)
	}
	return types.PeerIDFromPublicKey(pub), nil
}

// peerIDFromState 从 TLS 连接状态提取 PeerID
func peerIDFromState(state tls.ConnectionState) (types.PeerID, error) {
	raw := make([][]byte, 0, len(state.PeerCertificates))
	for _, c := range state.PeerCertificates {
		raw = append(raw, c.Raw)
	}
	return peerIDFromRawCerts(raw)
}
