package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/paramstream/errors"
)

// writeTestCert creates a self-signed certificate for cn and returns the
// cert and key paths.
func writeTestCert(t *testing.T, cn string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"Test Org"}, CommonName: cn},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func parseCert(t *testing.T, certFile string) *x509.Certificate {
	t.Helper()
	data, err := os.ReadFile(certFile)
	require.NoError(t, err)
	block, _ := pem.Decode(data)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return cert
}

func TestLoadServerConfig(t *testing.T) {
	certFile, keyFile := writeTestCert(t, "localhost")

	t.Run("disabled", func(t *testing.T) {
		got, err := LoadServerConfig(ServerConfig{CertFile: certFile, KeyFile: keyFile})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("enabled", func(t *testing.T) {
		got, err := LoadServerConfig(ServerConfig{
			Enabled: true, CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3",
		})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Len(t, got.Certificates, 1)
		assert.Equal(t, uint16(tls.VersionTLS13), got.MinVersion)
		assert.Equal(t, tls.NoClientCert, got.ClientAuth)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := LoadServerConfig(ServerConfig{Enabled: true, CertFile: certFile, KeyFile: "/nonexistent"})
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))
	})
}

func TestLoadServerConfig_ClientCerts(t *testing.T) {
	certFile, keyFile := writeTestCert(t, "localhost")
	caFile, _ := writeTestCert(t, "client-ca")

	t.Run("required", func(t *testing.T) {
		got, err := LoadServerConfig(ServerConfig{
			Enabled: true, CertFile: certFile, KeyFile: keyFile,
			ClientCAFiles: []string{caFile}, RequireClientCert: true,
		})
		require.NoError(t, err)
		assert.Equal(t, tls.RequireAndVerifyClientCert, got.ClientAuth)
		assert.NotNil(t, got.ClientCAs)
		assert.Nil(t, got.VerifyPeerCertificate)
	})

	t.Run("optional with allow list", func(t *testing.T) {
		got, err := LoadServerConfig(ServerConfig{
			Enabled: true, CertFile: certFile, KeyFile: keyFile,
			ClientCAFiles: []string{caFile}, AllowedClientCNs: []string{"client-a"},
		})
		require.NoError(t, err)
		assert.Equal(t, tls.VerifyClientCertIfGiven, got.ClientAuth)
		assert.NotNil(t, got.VerifyPeerCertificate)
	})

	t.Run("missing CA", func(t *testing.T) {
		_, err := LoadServerConfig(ServerConfig{
			Enabled: true, CertFile: certFile, KeyFile: keyFile,
			ClientCAFiles: []string{"/nonexistent/ca.pem"},
		})
		assert.Error(t, err)
	})
}

func TestLoadClientConfig(t *testing.T) {
	caFile, _ := writeTestCert(t, "ca")
	certFile, keyFile := writeTestCert(t, "client-a")

	badPEM := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(badPEM, []byte("not a cert"), 0o644))

	tests := []struct {
		name    string
		cfg     ClientConfig
		wantErr bool
		check   func(*testing.T, *tls.Config)
	}{
		{
			name: "defaults",
			cfg:  ClientConfig{},
			check: func(t *testing.T, c *tls.Config) {
				assert.NotNil(t, c.RootCAs)
				assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)
				assert.False(t, c.InsecureSkipVerify)
				assert.Empty(t, c.Certificates)
			},
		},
		{
			name: "additional CA",
			cfg:  ClientConfig{CAFiles: []string{caFile}},
			check: func(t *testing.T, c *tls.Config) {
				_, err := parseCert(t, caFile).Verify(x509.VerifyOptions{Roots: c.RootCAs})
				assert.NoError(t, err)
			},
		},
		{
			name: "insecure and 1.3",
			cfg:  ClientConfig{InsecureSkipVerify: true, MinVersion: "1.3"},
			check: func(t *testing.T, c *tls.Config) {
				assert.True(t, c.InsecureSkipVerify)
				assert.Equal(t, uint16(tls.VersionTLS13), c.MinVersion)
			},
		},
		{
			name: "client certificate",
			cfg:  ClientConfig{CertFile: certFile, KeyFile: keyFile},
			check: func(t *testing.T, c *tls.Config) {
				assert.Len(t, c.Certificates, 1)
			},
		},
		{name: "missing CA file", cfg: ClientConfig{CAFiles: []string{"/nonexistent/ca.pem"}}, wantErr: true},
		{name: "invalid PEM", cfg: ClientConfig{CAFiles: []string{badPEM}}, wantErr: true},
		{name: "cert without key", cfg: ClientConfig{CertFile: certFile}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadClientConfig(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestClientConfig_IsZero(t *testing.T) {
	assert.True(t, ClientConfig{}.IsZero())
	assert.False(t, ClientConfig{MinVersion: "1.3"}.IsZero())
	assert.False(t, ClientConfig{CAFiles: []string{"ca.pem"}}.IsZero())
}

func TestVerifyAllowedClientCN(t *testing.T) {
	certFile, _ := writeTestCert(t, "client-a")
	chains := [][]*x509.Certificate{{parseCert(t, certFile)}}

	assert.NoError(t, verifyAllowedClientCN(chains, []string{"client-b", "client-a"}))

	err := verifyAllowedClientCN(chains, []string{"client-b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client-a")

	assert.Error(t, verifyAllowedClientCN(nil, []string{"client-a"}))
}

func TestParseTLSVersion(t *testing.T) {
	tests := map[string]uint16{
		"1.3":     tls.VersionTLS13,
		"1.2":     tls.VersionTLS12,
		"":        tls.VersionTLS12,
		"1.1":     tls.VersionTLS12,
		"invalid": tls.VersionTLS12,
	}
	for version, want := range tests {
		assert.Equal(t, want, parseTLSVersion(version), version)
	}
}
