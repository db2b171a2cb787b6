package inbound

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"strings"

	"xmlsecflow/pkg/enckey"
	"xmlsecflow/pkg/helper/errors"
	"xmlsecflow/pkg/token"
	"xmlsecflow/pkg/xmlevent"
	"xmlsecflow/pkg/xmlio"
)

// DecryptingReader decrypts <EncryptedData> elements as they stream by,
// substituting each one's subtree with the events of its decrypted
// content, before anything downstream (signature verification, the
// caller) ever sees the ciphertext. Unlike pkg/inbound.Handler — which
// can only replace one pulled event with exactly one replacement —
// this wraps the source reader directly, so it is free to buffer a
// variable number of synthesized events internally and drain them
// across several Next calls.
//
// It is positioned upstream of the Input Processor Chain proper: an
// encrypted signature (sign-then-encrypt) must be decrypted before its
// SignedInfo and References become visible to the chain.
type DecryptingReader struct {
	src       xmlevent.Reader
	enc       *enckey.Handler
	providers *token.Registry
	ctx       context.Context

	queue []xmlevent.Event
	seq   int

	state   decState
	path    []string
	capture *encryptedDataCapture
}

type decState int

const (
	decIdle decState = iota
	decCapturing
)

const xencNS = "http://www.w3.org/2001/04/xmlenc#"

// encryptedDataCapture accumulates one <EncryptedData> subtree's parsed
// fields while it streams by.
type encryptedDataCapture struct {
	symmetricURI string

	transportURI     string
	transportKeyName string
	wrappedKeyB64    strings.Builder

	contentCipherB64 strings.Builder

	capturingField string // "" | "wrappedKey" | "content" | "keyName"
}

// NewDecryptingReader wraps src so that every <EncryptedData> element it
// yields is transparently replaced by its decrypted content events.
// enc supplies the EncryptedKey handler used to unwrap each
// EncryptedData's session key, including the timing-attack mitigation;
// providers is the document's token registry EncryptedKey tokens are
// registered into.
func NewDecryptingReader(ctx context.Context, src xmlevent.Reader, enc *enckey.Handler, providers *token.Registry) *DecryptingReader {
	return &DecryptingReader{
		ctx:       ctx,
		src:       src,
		enc:       enc,
		providers: providers,
	}
}

// Next implements xmlevent.Reader.
func (d *DecryptingReader) Next() (xmlevent.Event, error) {
	for {
		if len(d.queue) > 0 {
			ev := d.queue[0]
			d.queue = d.queue[1:]
			return ev, nil
		}

		ev, err := d.src.Next()
		if err != nil {
			return ev, err
		}

		out, err := d.handle(ev)
		if err != nil {
			return xmlevent.Event{}, err
		}
		if out {
			continue
		}
		return ev, nil
	}
}

// handle folds ev into the decryption state machine. It returns true
// when ev was consumed internally (queued output, if any, is drained on
// subsequent Next calls) and false when ev should pass straight through.
func (d *DecryptingReader) handle(ev xmlevent.Event) (bool, error) {
	switch d.state {
	case decIdle:
		if ev.Kind == xmlevent.StartElement && ev.Name.URI == xencNS && ev.Name.Local == "EncryptedData" {
			d.state = decCapturing
			d.path = []string{"EncryptedData"}
			d.capture = &encryptedDataCapture{}
			return true, nil
		}
		return false, nil

	case decCapturing:
		return true, d.fold(ev)
	}
	return false, nil
}

func (d *DecryptingReader) fold(ev xmlevent.Event) error {
	switch ev.Kind {
	case xmlevent.StartElement:
		d.path = append(d.path, ev.Name.Local)
		rel := strings.Join(d.path, "/")
		switch rel {
		case "EncryptedData/EncryptionMethod":
			if v, ok := ev.Attr(algorithmAttr); ok {
				d.capture.symmetricURI = v
			}
		case "EncryptedData/KeyInfo/EncryptedKey/EncryptionMethod":
			if v, ok := ev.Attr(algorithmAttr); ok {
				d.capture.transportURI = v
			}
		case "EncryptedData/KeyInfo/EncryptedKey/KeyInfo/KeyName":
			d.capture.capturingField = "keyName"
		case "EncryptedData/KeyInfo/EncryptedKey/CipherData/CipherValue":
			d.capture.capturingField = "wrappedKey"
		case "EncryptedData/CipherData/CipherValue":
			d.capture.capturingField = "content"
		}
		return nil

	case xmlevent.Text:
		switch d.capture.capturingField {
		case "keyName":
			d.capture.transportKeyName += ev.Data
		case "wrappedKey":
			d.capture.wrappedKeyB64.WriteString(ev.Data)
		case "content":
			d.capture.contentCipherB64.WriteString(ev.Data)
		}
		return nil

	case xmlevent.EndElement:
		if len(d.path) > 0 {
			d.path = d.path[:len(d.path)-1]
		}
		d.capture.capturingField = ""
		if ev.Name.URI == xencNS && ev.Name.Local == "EncryptedData" && len(d.path) == 0 {
			return d.finalize()
		}
		return nil
	}
	return nil
}

// finalize decrypts the captured EncryptedData and enqueues the
// resulting plaintext content's events in place of the subtree, then
// returns the reader to idle state.
func (d *DecryptingReader) finalize() error {
	c := d.capture
	d.state = decIdle
	d.capture = nil

	if c.symmetricURI == "" {
		return errors.MissingRequiredElementf("EncryptedData has no EncryptionMethod")
	}

	wrappedKey, err := decodeBase64(c.wrappedKeyB64.String())
	if err != nil {
		return errors.Wrap(err, "failed to decode EncryptedKey CipherValue")
	}
	contentCipher, err := decodeBase64(c.contentCipherB64.String())
	if err != nil {
		return errors.Wrap(err, "failed to decode EncryptedData CipherValue")
	}

	d.seq++
	keyID := fmt.Sprintf("decrypt-key-%d", d.seq)
	rec := enckey.EncryptedKeyRecord{
		ID:                  keyID,
		EncryptionMethodURI: c.transportURI,
		KeyInfo:             enckey.KeyInfoLocator{KeyName: c.transportKeyName},
		CipherValue:         wrappedKey,
		OAEP:                enckey.DefaultOAEPParams(),
	}
	if err := d.enc.Register(d.providers, rec); err != nil {
		return err
	}
	keyToken, err := d.providers.Resolve(keyID)
	if err != nil {
		return err
	}
	sessionKey, err := keyToken.SecretKeyFor(d.ctx, c.symmetricURI, token.UsageEncryption, keyID)
	if err != nil {
		return err
	}

	plaintext, err := decryptAESCBC(sessionKey, contentCipher)
	if err != nil {
		// A cipher-integrity failure downstream of a mitigated (random)
		// session key must surface as the ordinary cipher error, never
		// as anything that distinguishes it from a real unwrap failure.
		return errors.Wrap(err, "failed to decrypt EncryptedData content")
	}

	return d.enqueuePlaintext(plaintext)
}

// enqueuePlaintext re-parses the decrypted content as a standalone XML
// fragment and queues its events (skipping the synthetic document
// start/end the fragment parse produces).
func (d *DecryptingReader) enqueuePlaintext(plaintext []byte) error {
	r := xmlio.NewReader(strings.NewReader("<decrypted-content-root>" + string(plaintext) + "</decrypted-content-root>"))
	depth := 0
	for {
		ev, err := r.Next()
		if err != nil {
			return errors.Wrap(err, "failed to parse decrypted EncryptedData content")
		}
		switch ev.Kind {
		case xmlevent.DocumentStart:
			continue
		case xmlevent.DocumentEnd:
			return nil
		case xmlevent.StartElement:
			depth++
			if depth == 1 {
				continue // synthetic wrapper root, never emitted
			}
		case xmlevent.EndElement:
			if depth == 1 {
				depth--
				continue // synthetic wrapper root's close
			}
			depth--
		}
		d.queue = append(d.queue, ev)
	}
}

// decryptAESCBC is the inverse of outbound's encryptAESCBC: the first
// block is the IV, the remainder is PKCS#7-padded ciphertext.
func decryptAESCBC(key, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	if len(in) < bs || len(in)%bs != 0 {
		return nil, errors.InvalidSecurityf("ciphertext is not a whole number of cipher blocks")
	}
	iv, ct := in[:bs], in[bs:]
	if len(ct) == 0 {
		return nil, errors.InvalidSecurityf("ciphertext is empty after the IV block")
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)

	padLen := int(out[len(out)-1])
	if padLen == 0 || padLen > bs || padLen > len(out) {
		return nil, errors.InvalidSecurityf("invalid PKCS#7 padding")
	}
	return out[:len(out)-padLen], nil
}
