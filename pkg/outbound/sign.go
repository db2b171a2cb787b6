package outbound

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"math/big"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/helper/errors"
)

// computeSignatureValue produces the raw SignatureValue bytes over the
// canonical SignedInfo, dispatching on the signature algorithm's family
// the same way the algorithm registry tags it. Exactly one of
// secretKey/privateKey is meaningful, matching which kind of key a
// signing token holds.
func computeSignatureValue(desc algorithm.Descriptor, secretKey []byte, privateKey crypto.PrivateKey, canonicalSignedInfo []byte) ([]byte, error) {
	switch desc.Family {
	case algorithm.FamilyHMAC:
		if secretKey == nil {
			return nil, errors.KeyResolutionFailedf("signature algorithm %s requires a symmetric key", desc.URI)
		}
		mac := hmac.New(desc.HashFunc.New, secretKey)
		mac.Write(canonicalSignedInfo)
		return mac.Sum(nil), nil
	case algorithm.FamilySignature:
		digest, err := hashBytes(desc.HashFunc, canonicalSignedInfo)
		if err != nil {
			return nil, err
		}
		switch priv := privateKey.(type) {
		case *rsa.PrivateKey:
			return rsa.SignPKCS1v15(rand.Reader, priv, desc.HashFunc, digest)
		case *dsa.PrivateKey:
			return signDSA(priv, digest)
		case *ecdsa.PrivateKey:
			return ecdsa.SignASN1(rand.Reader, priv, digest)
		default:
			return nil, errors.KeyResolutionFailedf("signature algorithm %s: unsupported private key type %T", desc.URI, privateKey)
		}
	default:
		return nil, errors.UnsupportedAlgorithmf("algorithm %s is not a signature algorithm", desc.URI)
	}
}

func hashBytes(h crypto.Hash, data []byte) ([]byte, error) {
	if !h.Available() {
		return nil, errors.UnsupportedAlgorithmf("hash function %v not linked into binary", h)
	}
	hasher := h.New()
	hasher.Write(data)
	return hasher.Sum(nil), nil
}

// signDSA produces the xmldsig fixed-length r||s encoding (twenty bytes
// each for DSA-SHA1's 160-bit subgroup order) rather than ASN.1 DER, to
// match the wire format XML-DSig requires for DSAKeyValue signatures.
func signDSA(priv *dsa.PrivateKey, digest []byte) ([]byte, error) {
	r, s, err := dsa.Sign(rand.Reader, priv, digest)
	if err != nil {
		return nil, err
	}
	const fieldLen = 20
	out := make([]byte, 2*fieldLen)
	r.FillBytes(out[:fieldLen])
	s.FillBytes(out[fieldLen:])
	return out, nil
}

// VerifySignatureValue checks signatureValue against the canonical
// SignedInfo bytes, dispatching on desc's family the same way
// computeSignatureValue does for the signing direction. It is exported
// for pkg/pipeline's SignatureValueVerifier implementation, which takes
// its key from a caller-supplied verifying token (it parses no KeyInfo)
// and delegates the actual cryptographic check here so both directions
// share one algorithm dispatch table.
func VerifySignatureValue(desc algorithm.Descriptor, secretKey []byte, publicKey crypto.PublicKey, canonicalSignedInfo, signatureValue []byte) (bool, error) {
	switch desc.Family {
	case algorithm.FamilyHMAC:
		if secretKey == nil {
			return false, errors.KeyResolutionFailedf("signature algorithm %s requires a symmetric key", desc.URI)
		}
		mac := hmac.New(desc.HashFunc.New, secretKey)
		mac.Write(canonicalSignedInfo)
		return hmac.Equal(mac.Sum(nil), signatureValue), nil
	case algorithm.FamilySignature:
		digest, err := hashBytes(desc.HashFunc, canonicalSignedInfo)
		if err != nil {
			return false, err
		}
		switch pub := publicKey.(type) {
		case *rsa.PublicKey:
			err := rsa.VerifyPKCS1v15(pub, desc.HashFunc, digest, signatureValue)
			return err == nil, nil
		case *dsa.PublicKey:
			return verifyDSA(pub, digest, signatureValue), nil
		case *ecdsa.PublicKey:
			return ecdsa.VerifyASN1(pub, digest, signatureValue), nil
		default:
			return false, errors.KeyResolutionFailedf("signature algorithm %s: unsupported public key type %T", desc.URI, publicKey)
		}
	default:
		return false, errors.UnsupportedAlgorithmf("algorithm %s is not a signature algorithm", desc.URI)
	}
}

// verifyDSA is the inverse of signDSA, for SignatureValueVerifier
// implementations that need to check a DSA signature.
func verifyDSA(pub *dsa.PublicKey, digest, sig []byte) bool {
	const fieldLen = 20
	if len(sig) != 2*fieldLen {
		return false
	}
	r := new(big.Int).SetBytes(sig[:fieldLen])
	s := new(big.Int).SetBytes(sig[fieldLen:])
	return dsa.Verify(pub, digest, r, s)
}
