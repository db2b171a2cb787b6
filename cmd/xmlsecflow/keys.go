package main

import (
	"context"
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/enckey"
	"xmlsecflow/pkg/helper/errors"
	"xmlsecflow/pkg/secevent"
	"xmlsecflow/pkg/token"
)

// loadPrivateKeyPEM reads a PEM-encoded private key from path, trying
// PKCS#8 first and falling back to the older PKCS#1 (RSA) and SEC 1 (EC)
// forms, the way most command-line tools accept whatever openssl
// happened to emit.
func loadPrivateKeyPEM(path string) (crypto.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read private key file %s", path)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.InvalidInputf("%s: no PEM block found", path)
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, errors.InvalidInputf("%s: unrecognized private key encoding", path)
}

// loadCertificatePEM reads a single PEM-encoded X.509 certificate.
func loadCertificatePEM(path string) (*x509.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read certificate file %s", path)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.InvalidInputf("%s: no PEM block found", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse certificate %s", path)
	}
	return cert, nil
}

// loadPublicKeyPEM reads a PEM-encoded public key, either a bare SPKI
// block or a certificate (in which case its subject public key is
// used).
func loadPublicKeyPEM(path string) (crypto.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read public key file %s", path)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.InvalidInputf("%s: no PEM block found", path)
	}
	if block.Type == "CERTIFICATE" {
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse certificate %s", path)
		}
		return cert.PublicKey, nil
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse public key %s", path)
	}
	return pub, nil
}

// signatureKeyKindFor maps a loaded private key's concrete Go type to
// the key-kind names algorithm.DefaultSignatureAlgorithmFor expects.
func signatureKeyKindFor(priv crypto.PrivateKey) string {
	switch priv.(type) {
	case *dsa.PrivateKey:
		return "DSA"
	case *ecdsa.PrivateKey:
		return "ECDSA"
	default:
		return "RSA"
	}
}

// newSigningToken builds a token holding a local private key for
// outbound SIGN actions. certPath may be empty, in which case KeyInfo
// falls back to a <KeyName> built from the token id.
func newSigningToken(reg *algorithm.Registry, bus *secevent.Bus, privPath, certPath string) (*token.Token, string, error) {
	priv, err := loadPrivateKeyPEM(privPath)
	if err != nil {
		return nil, "", err
	}
	t := token.New("signer", reg, bus)
	t.Kind = token.KindX509
	t.Asymmetric = true
	t.SetSecretResolver(func(_ context.Context, _ *token.Token, _ string, _ token.Usage) (token.KeyMaterial, error) {
		return token.KeyMaterial{Private: priv}, nil
	})
	if certPath != "" {
		cert, err := loadCertificatePEM(certPath)
		if err != nil {
			return nil, "", err
		}
		t.Certificates = []*x509.Certificate{cert}
	}
	return t, signatureKeyKindFor(priv), nil
}

// newHMACToken builds a symmetric token for HMAC signing/verification
// from a base64-encoded secret.
func newHMACToken(reg *algorithm.Registry, bus *secevent.Bus, id, secretB64 string) (*token.Token, error) {
	secret, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode HMAC secret as base64")
	}
	t := token.New(id, reg, bus)
	t.Kind = token.KindSymmetric
	t.SetSecretResolver(func(_ context.Context, _ *token.Token, _ string, _ token.Usage) (token.KeyMaterial, error) {
		return token.KeyMaterial{Symmetric: secret}, nil
	})
	return t, nil
}

// newVerifyingToken builds the token pipeline.VerifyOptions.VerifyingToken
// needs, from exactly one of a certificate/public-key file (asymmetric
// verification) or a base64 HMAC secret (symmetric verification).
func newVerifyingToken(reg *algorithm.Registry, bus *secevent.Bus, certPath, pubKeyPath, hmacSecretB64 string) (*token.Token, error) {
	if hmacSecretB64 != "" {
		return newHMACToken(reg, bus, "verifier", hmacSecretB64)
	}

	var pub crypto.PublicKey
	var err error
	switch {
	case certPath != "":
		pub, err = loadPublicKeyPEM(certPath)
	case pubKeyPath != "":
		pub, err = loadPublicKeyPEM(pubKeyPath)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	t := token.New("verifier", reg, bus)
	t.Kind = token.KindX509
	t.Asymmetric = true
	t.SetPublicResolver(func(_ context.Context, _ *token.Token, _ string, _ token.Usage) (token.KeyMaterial, error) {
		return token.KeyMaterial{Public: pub}, nil
	})
	return t, nil
}

// newTransportToken builds the token pkg/outbound's
// EncryptionOutputProcessor wraps a session key to: an RSA public key
// identified by name so a matching decrypt-side keystore entry can find
// the private half.
func newTransportToken(reg *algorithm.Registry, bus *secevent.Bus, keyName, certPath, pubKeyPath string) (*token.Token, error) {
	var pub crypto.PublicKey
	var err error
	if certPath != "" {
		pub, err = loadPublicKeyPEM(certPath)
	} else {
		pub, err = loadPublicKeyPEM(pubKeyPath)
	}
	if err != nil {
		return nil, err
	}
	if _, ok := pub.(*rsa.PublicKey); !ok {
		return nil, errors.InvalidInputf("transport key must be RSA, got %T", pub)
	}
	t := token.New(keyName, reg, bus)
	t.Kind = token.KindX509
	t.Asymmetric = true
	t.SetPublicResolver(func(_ context.Context, _ *token.Token, _ string, _ token.Usage) (token.KeyMaterial, error) {
		return token.KeyMaterial{Public: pub}, nil
	})
	return t, nil
}

// newLocalUnwrapResolver builds a WrappingTokenResolver over one local
// RSA private key, registered under keyName so it answers the KeyName
// KeyInfo locator the outbound encryptor writes.
func newLocalUnwrapResolver(reg *algorithm.Registry, bus *secevent.Bus, keyName, privPath string) (enckey.WrappingTokenResolver, error) {
	priv, err := loadPrivateKeyPEM(privPath)
	if err != nil {
		return nil, err
	}
	rsaPriv, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.InvalidInputf("%s: decrypt transport key must be RSA, got %T", privPath, priv)
	}
	t := token.New(keyName, reg, bus)
	t.Kind = token.KindX509
	t.Asymmetric = true
	t.SetSecretResolver(func(_ context.Context, _ *token.Token, _ string, _ token.Usage) (token.KeyMaterial, error) {
		return token.KeyMaterial{Private: rsaPriv}, nil
	})
	return enckey.NewKeystoreResolver(map[string]*token.Token{keyName: t}), nil
}
