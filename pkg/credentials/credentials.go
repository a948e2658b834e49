// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package credentials loads the PEM encoded TLS material used by quicbridge
// endpoints and can generate self-signed certificates for testing.
package credentials

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// CredentialError reports a missing, unreadable, or unrecognized credential
// file. It is fatal for the endpoint depending on it.
type CredentialError struct {
	Path  string
	Msg   string
	Cause error
}

func newCredentialError(path, msg string, cause error) *CredentialError {
	return &CredentialError{
		Path:  path,
		Msg:   msg,
		Cause: cause,
	}
}

func (err *CredentialError) Error() string {
	if err.Cause != nil {
		return fmt.Sprintf("credentials %s: %s: %v", err.Path, err.Msg, err.Cause)
	}
	return fmt.Sprintf("credentials %s: %s", err.Path, err.Msg)
}

func (err *CredentialError) Unwrap() error {
	return err.Cause
}

// readPEM reads a file and returns its first PEM block of one of the given types.
func readPEM(path string, types ...string) ([]byte, *pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, newCredentialError(path, "reading file", err)
	}

	for rest := data; ; {
		var block *pem.Block
		if block, rest = pem.Decode(rest); block == nil {
			return nil, nil, newCredentialError(path, fmt.Sprintf("no PEM block of type %v", types), nil)
		}

		for _, t := range types {
			if block.Type == t {
				return data, block, nil
			}
		}
	}
}

// LoadServerCredentials loads a PEM certificate chain and its private key.
func LoadServerCredentials(certPath, keyPath string) (tls.Certificate, error) {
	certPEM, certBlock, err := readPEM(certPath, "CERTIFICATE")
	if err != nil {
		return tls.Certificate{}, err
	}
	if _, err := x509.ParseCertificate(certBlock.Bytes); err != nil {
		return tls.Certificate{}, newCredentialError(certPath, "parsing certificate", err)
	}

	keyPEM, _, err := readPEM(keyPath, "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY")
	if err != nil {
		return tls.Certificate{}, err
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, newCredentialError(keyPath, "pairing certificate and key", err)
	}
	return cert, nil
}

// LoadClientTrustRoot loads a PEM certificate into a fresh pool, used as the
// only trusted root when dialing a server.
func LoadClientTrustRoot(certPath string) (*x509.CertPool, error) {
	_, block, err := readPEM(certPath, "CERTIFICATE")
	if err != nil {
		return nil, err
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, newCredentialError(certPath, "parsing certificate", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return pool, nil
}
