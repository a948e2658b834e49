// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package credentials

import (
	"context"
	"crypto/tls"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Keypair holds the server's certificate and key and can reload them while
// the server is running. Handshakes always see a complete pair.
type Keypair struct {
	certPath string
	keyPath  string

	cert atomic.Pointer[tls.Certificate]
}

// NewKeypair loads the initial pair. Errors are CredentialErrors.
func NewKeypair(certPath, keyPath string) (*Keypair, error) {
	kp := &Keypair{
		certPath: filepath.Clean(certPath),
		keyPath:  filepath.Clean(keyPath),
	}
	if err := kp.Reload(); err != nil {
		return nil, err
	}
	return kp, nil
}

// Reload reads both files again. On failure the previous pair stays active.
func (kp *Keypair) Reload() error {
	cert, err := LoadServerCredentials(kp.certPath, kp.keyPath)
	if err != nil {
		return err
	}

	kp.cert.Store(&cert)
	return nil
}

// Certificate returns the active pair.
func (kp *Keypair) Certificate() *tls.Certificate {
	return kp.cert.Load()
}

// GetCertificate is meant for tls.Config.GetCertificate.
func (kp *Keypair) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return kp.cert.Load(), nil
}

// Watch reloads the pair whenever one of its files changes, until the context
// is done. The directories are watched, so files replaced by renaming are
// picked up as well.
func (kp *Keypair) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	dirs := map[string]struct{}{
		filepath.Dir(kp.certPath): {},
		filepath.Dir(kp.keyPath):  {},
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{
		"certificate": kp.certPath,
		"key":         kp.keyPath,
	}).Debug("Watching credentials for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case e, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			name := filepath.Clean(e.Name)
			if name != kp.certPath && name != kp.keyPath {
				continue
			}
			if e.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if err := kp.Reload(); err != nil {
				// The other half of the pair might not be written yet.
				log.WithFields(log.Fields{
					"file":  name,
					"error": err,
				}).Debug("Reloading credentials failed, keeping the active pair")
			} else {
				log.WithField("file", name).Info("Reloaded credentials")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("fsnotify errored while watching credentials")
		}
	}
}
