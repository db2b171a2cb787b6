package outbound

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"io"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/helper/errors"
	"xmlsecflow/pkg/token"
	"xmlsecflow/pkg/xmlevent"
	"xmlsecflow/pkg/xmlio"
)

// EncryptParams holds the ENCRYPT action's configuration: the
// key-transport algorithm wrapping the session key, and the symmetric
// algorithm encrypting the selected element's content.
type EncryptParams struct {
	KeyTransportURI string
	SymmetricURI    string
	ElementID       string // optional fixed id; a synthetic one is assigned if absent
}

type encState int

const (
	encIdle encState = iota
	encActive
	encDone
)

// EncryptionOutputProcessor is the encrypting half of the outbound
// pipeline: it replaces the content of the first matched
// element with a freshly generated session key's ciphertext, wraps that
// session key with the configured transport token, and emits the
// resulting <EncryptedData> as the element's sole child.
type EncryptionOutputProcessor struct {
	ctx       context.Context
	match     func(xmlevent.Event) bool
	params    EncryptParams
	reg       *algorithm.Registry
	transport *token.Token
	rng       io.Reader

	state    encState
	openName xmlevent.QName
	depth    int
	elemID   string

	content    bytes.Buffer
	contentEnc *xmlio.Writer
}

// NewEncryptionOutputProcessor builds a processor that encrypts the
// first element matched by match, wrapping its session key with
// transport (an asymmetric key-transport token, e.g. an RSA public key).
func NewEncryptionOutputProcessor(ctx context.Context, match func(xmlevent.Event) bool, params EncryptParams, reg *algorithm.Registry, transport *token.Token) *EncryptionOutputProcessor {
	if params.KeyTransportURI == "" {
		params.KeyTransportURI = algorithm.KeyTransportRSAOAEPMGF1P
	}
	if params.SymmetricURI == "" {
		params.SymmetricURI = algorithm.BlockCipherAES256CBC
	}
	return &EncryptionOutputProcessor{
		ctx:       ctx,
		match:     match,
		params:    params,
		reg:       reg,
		transport: transport,
		rng:       rand.Reader,
	}
}

func (p *EncryptionOutputProcessor) Done() bool { return p.state == encDone }

func (p *EncryptionOutputProcessor) HandleEvent(ev xmlevent.Event) ([]xmlevent.Event, error) {
	switch p.state {
	case encIdle:
		if ev.Kind != xmlevent.StartElement || !p.match(ev) {
			return []xmlevent.Event{ev}, nil
		}
		id, ok := ev.ID()
		if !ok {
			id = p.params.ElementID
			if id == "" {
				id = "enc-" + ev.Name.Local
			}
			ev.Attrs = append(ev.Attrs, xmlevent.Attr{Name: xmlevent.QName{Local: "Id"}, Value: id})
		}
		p.elemID = id
		p.openName = ev.Name
		p.depth = 1
		p.state = encActive
		p.contentEnc = xmlio.NewWriter(&p.content)
		return []xmlevent.Event{ev}, nil

	case encActive:
		switch ev.Kind {
		case xmlevent.StartElement:
			p.depth++
		case xmlevent.EndElement:
			p.depth--
		}
		if ev.Kind == xmlevent.EndElement && p.depth == 0 && ev.Name.Equal(p.openName) {
			encEvents, err := p.finalize()
			if err != nil {
				return nil, err
			}
			p.state = encDone
			return append(encEvents, ev), nil
		}
		if err := p.contentEnc.Write(ev); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return []xmlevent.Event{ev}, nil
}

func (p *EncryptionOutputProcessor) finalize() ([]xmlevent.Event, error) {
	if _, err := p.reg.Lookup(p.params.SymmetricURI); err != nil {
		return nil, err
	}
	keyBits, err := p.reg.KeyLengthBits(p.params.SymmetricURI)
	if err != nil {
		return nil, err
	}
	sessionKey := make([]byte, keyBits/8)
	if _, err := io.ReadFull(p.rng, sessionKey); err != nil {
		return nil, errors.Wrap(err, "failed to generate session key")
	}

	ciphertext, err := encryptAESCBC(p.rng, sessionKey, p.content.Bytes())
	if err != nil {
		return nil, err
	}

	wrapped, err := p.wrapSessionKey(sessionKey)
	if err != nil {
		return nil, err
	}

	var out []xmlevent.Event
	emit := func(e xmlevent.Event) { out = append(out, e) }

	emit(encEl("EncryptedData", encAttr("Id", "ed-"+p.elemID), encAttr("Type", "http://www.w3.org/2001/04/xmlenc#Content")))
	emit(encEl("EncryptionMethod", encAttr("Algorithm", p.params.SymmetricURI)))
	emit(encEnd("EncryptionMethod"))
	emit(encEl("KeyInfo"))
	emit(encEl("EncryptedKey"))
	emit(encEl("EncryptionMethod", encAttr("Algorithm", p.params.KeyTransportURI)))
	emit(encEnd("EncryptionMethod"))
	emit(encEl("KeyInfo"))
	emit(encEl("KeyName"))
	emit(encTxt(p.transport.ID))
	emit(encEnd("KeyName"))
	emit(encEnd("KeyInfo"))
	emit(encEl("CipherData"))
	emit(encEl("CipherValue"))
	emit(encTxt(base64.StdEncoding.EncodeToString(wrapped)))
	emit(encEnd("CipherValue"))
	emit(encEnd("CipherData"))
	emit(encEnd("EncryptedKey"))
	emit(encEnd("KeyInfo"))
	emit(encEl("CipherData"))
	emit(encEl("CipherValue"))
	emit(encTxt(base64.StdEncoding.EncodeToString(ciphertext)))
	emit(encEnd("CipherValue"))
	emit(encEnd("CipherData"))
	emit(encEnd("EncryptedData"))

	return out, nil
}

// wrapSessionKey encrypts sessionKey to the transport token's public
// key per the configured key-transport algorithm.
func (p *EncryptionOutputProcessor) wrapSessionKey(sessionKey []byte) ([]byte, error) {
	pub, err := p.transport.PublicKeyFor(p.ctx, p.params.KeyTransportURI, token.UsageAsymmetricKeyWrap, p.elemID)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.KeyResolutionFailedf("key-transport algorithm %s requires an RSA public key, got %T", p.params.KeyTransportURI, pub)
	}
	switch p.params.KeyTransportURI {
	case algorithm.KeyTransportRSA15:
		return rsa.EncryptPKCS1v15(p.rng, rsaPub, sessionKey)
	default:
		return rsa.EncryptOAEP(sha1.New(), p.rng, rsaPub, sessionKey, nil)
	}
}

// encryptAESCBC prepends a random IV to the PKCS#7-padded ciphertext,
// the conventional XML-Enc CBC wire layout.
func encryptAESCBC(rng io.Reader, key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	iv := make([]byte, block.BlockSize())
	if _, err := io.ReadFull(rng, iv); err != nil {
		return nil, err
	}
	out := make([]byte, len(iv)+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[len(iv):], padded)
	return out, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func encEl(local string, attrs ...xmlevent.Attr) xmlevent.Event {
	return xmlevent.Event{Kind: xmlevent.StartElement, Name: xmlevent.QName{URI: xencNamespace, Local: local}, Attrs: attrs}
}

func encEnd(local string) xmlevent.Event {
	return xmlevent.Event{Kind: xmlevent.EndElement, Name: xmlevent.QName{URI: xencNamespace, Local: local}}
}

func encTxt(s string) xmlevent.Event {
	return xmlevent.Event{Kind: xmlevent.Text, Data: s}
}

func encAttr(local, value string) xmlevent.Attr {
	return xmlevent.Attr{Name: xmlevent.QName{Local: local}, Value: value}
}

const xencNamespace = "http://www.w3.org/2001/04/xmlenc#"
