package outbound

import (
	"encoding/base64"

	"xmlsecflow/pkg/canon"
	"xmlsecflow/pkg/token"
	"xmlsecflow/pkg/xmlevent"
)

func qn(local string) xmlevent.QName {
	return xmlevent.QName{URI: canon.DSigNamespace, Local: local}
}

func attr(local, value string) xmlevent.Attr {
	return xmlevent.Attr{Name: xmlevent.QName{Local: local}, Value: value}
}

func startEl(local string, attrs ...xmlevent.Attr) xmlevent.Event {
	return xmlevent.Event{Kind: xmlevent.StartElement, Name: qn(local), Attrs: attrs}
}

func endEl(local string) xmlevent.Event {
	return xmlevent.Event{Kind: xmlevent.EndElement, Name: qn(local)}
}

func textEl(s string) xmlevent.Event {
	return xmlevent.Event{Kind: xmlevent.Text, Data: s}
}

// buildSignedInfoEvents emits the <SignedInfo> element (inclusive of its
// own start/end tags) for exactly one Reference, matching the single
// target subtree a SignatureOutputProcessor digests.
func buildSignedInfoEvents(emit func(xmlevent.Event), p SignParams, digestValue []byte, targetID string) {
	emit(startEl("SignedInfo"))
	emit(startEl("CanonicalizationMethod", attr("Algorithm", p.CanonicalizationAlgorithmURI)))
	emit(endEl("CanonicalizationMethod"))
	emit(startEl("SignatureMethod", attr("Algorithm", p.SignatureAlgorithmURI)))
	emit(endEl("SignatureMethod"))

	emit(startEl("Reference", attr("URI", "#"+targetID)))
	if len(p.Transforms) > 0 {
		emit(startEl("Transforms"))
		for _, t := range p.Transforms {
			emit(startEl("Transform", attr("Algorithm", t.AlgorithmURI)))
			emit(endEl("Transform"))
		}
		emit(endEl("Transforms"))
	}
	emit(startEl("DigestMethod", attr("Algorithm", p.DigestAlgorithmURI)))
	emit(endEl("DigestMethod"))
	emit(startEl("DigestValue"))
	emit(textEl(base64.StdEncoding.EncodeToString(digestValue)))
	emit(endEl("DigestValue"))
	emit(endEl("Reference"))

	emit(endEl("SignedInfo"))
}

// buildKeyInfoEvents renders the body of <KeyInfo> (not the KeyInfo tag
// itself) per the configured key-identifier type. X509IssuerSerial and
// X509SubjectName render the signing token's first certificate and fall
// back to a <KeyName> holding the token's id when it has none; KeyName
// always renders the token's id.
func buildKeyInfoEvents(kind KeyIdentifierType, signer *token.Token) []xmlevent.Event {
	var out []xmlevent.Event
	emit := func(e xmlevent.Event) { out = append(out, e) }

	switch kind {
	case KeyIdentifierX509IssuerSerial, KeyIdentifierX509SubjectName:
		if len(signer.Certificates) == 0 {
			emit(startEl("KeyName"))
			emit(textEl(signer.ID))
			emit(endEl("KeyName"))
			return out
		}
		cert := signer.Certificates[0]
		emit(startEl("X509Data"))
		if kind == KeyIdentifierX509IssuerSerial {
			emit(startEl("X509IssuerSerial"))
			emit(startEl("X509IssuerName"))
			emit(textEl(cert.Issuer.String()))
			emit(endEl("X509IssuerName"))
			emit(startEl("X509SerialNumber"))
			emit(textEl(cert.SerialNumber.String()))
			emit(endEl("X509SerialNumber"))
			emit(endEl("X509IssuerSerial"))
		} else {
			emit(startEl("X509SubjectName"))
			emit(textEl(cert.Subject.String()))
			emit(endEl("X509SubjectName"))
		}
		emit(startEl("X509Certificate"))
		emit(textEl(base64.StdEncoding.EncodeToString(cert.Raw)))
		emit(endEl("X509Certificate"))
		emit(endEl("X509Data"))
	default:
		emit(startEl("KeyName"))
		emit(textEl(signer.ID))
		emit(endEl("KeyName"))
	}
	return out
}
