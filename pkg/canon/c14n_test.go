package canon

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/xmlevent"
)

func start(local string, attrs ...xmlevent.Attr) xmlevent.Event {
	return xmlevent.Event{Kind: xmlevent.StartElement, Name: xmlevent.QName{Local: local}, Attrs: attrs}
}

func end(local string) xmlevent.Event {
	return xmlevent.Event{Kind: xmlevent.EndElement, Name: xmlevent.QName{Local: local}}
}

func text(s string) xmlevent.Event {
	return xmlevent.Event{Kind: xmlevent.Text, Data: s}
}

func comment(s string) xmlevent.Event {
	return xmlevent.Event{Kind: xmlevent.Comment, Data: s}
}

func attrOf(local, value string) xmlevent.Attr {
	return xmlevent.Attr{Name: xmlevent.QName{Local: local}, Value: value}
}

func canonicalize(t *testing.T, uri string, events []xmlevent.Event) string {
	t.Helper()
	var out bytes.Buffer
	c, err := NewCanonicalizer(uri, nil, &out)
	require.NoError(t, err)
	for _, ev := range events {
		require.NoError(t, c.HandleEvent(ev))
	}
	return out.String()
}

func TestCanonicalizerSortsAttributes(t *testing.T) {
	got := canonicalize(t, algorithm.CanonC14N10OmitComments, []xmlevent.Event{
		start("doc", attrOf("zeta", "1"), attrOf("alpha", "2")),
		end("doc"),
	})
	assert.Equal(t, `<doc alpha="2" zeta="1"></doc>`, got)
}

func TestCanonicalizerOmitsCommentsByDefault(t *testing.T) {
	events := []xmlevent.Event{
		start("doc"),
		comment("hidden"),
		text("body"),
		end("doc"),
	}

	omit := canonicalize(t, algorithm.CanonC14N10OmitComments, events)
	assert.Equal(t, "<doc>body</doc>", omit)

	with := canonicalize(t, algorithm.CanonC14N10WithComments, events)
	assert.Equal(t, "<doc><!--hidden-->body</doc>", with)
}

func TestCanonicalizerEscapesTextAndAttributes(t *testing.T) {
	got := canonicalize(t, algorithm.CanonC14N10OmitComments, []xmlevent.Event{
		start("doc", attrOf("a", `x<y"z`)),
		text("1 < 2 & 3 > 2"),
		end("doc"),
	})
	assert.Equal(t, `<doc a="x&lt;y&quot;z">1 &lt; 2 &amp; 3 &gt; 2</doc>`, got)
}

func TestCanonicalizerDeclaresNamespaceOnce(t *testing.T) {
	const ns = "urn:example:a"
	got := canonicalize(t, algorithm.CanonExclusiveC14N, []xmlevent.Event{
		{Kind: xmlevent.StartElement, Name: xmlevent.QName{URI: ns, Local: "outer"}},
		{Kind: xmlevent.StartElement, Name: xmlevent.QName{URI: ns, Local: "inner"}},
		{Kind: xmlevent.EndElement, Name: xmlevent.QName{URI: ns, Local: "inner"}},
		{Kind: xmlevent.EndElement, Name: xmlevent.QName{URI: ns, Local: "outer"}},
	})
	assert.Equal(t, `<outer xmlns="urn:example:a"><inner></inner></outer>`, got)
}

func TestCanonicalizerRedeclaresAfterScopeExit(t *testing.T) {
	const ns = "urn:example:a"
	got := canonicalize(t, algorithm.CanonExclusiveC14N, []xmlevent.Event{
		start("root"),
		{Kind: xmlevent.StartElement, Name: xmlevent.QName{URI: ns, Local: "first"}},
		{Kind: xmlevent.EndElement, Name: xmlevent.QName{URI: ns, Local: "first"}},
		{Kind: xmlevent.StartElement, Name: xmlevent.QName{URI: ns, Local: "second"}},
		{Kind: xmlevent.EndElement, Name: xmlevent.QName{URI: ns, Local: "second"}},
		end("root"),
	})
	assert.Equal(t, `<root><first xmlns="urn:example:a"></first><second xmlns="urn:example:a"></second></root>`, got)
}

func TestCanonicalizerResetsDefaultNamespaceForUnqualifiedChild(t *testing.T) {
	const ns = "urn:example:a"
	got := canonicalize(t, algorithm.CanonC14N10OmitComments, []xmlevent.Event{
		{Kind: xmlevent.StartElement, Name: xmlevent.QName{URI: ns, Local: "outer"}},
		start("plain"),
		end("plain"),
		{Kind: xmlevent.EndElement, Name: xmlevent.QName{URI: ns, Local: "outer"}},
	})
	assert.Equal(t, `<outer xmlns="urn:example:a"><plain xmlns=""></plain></outer>`, got)
}

func TestCanonicalizerRendersXMLNamespaceAttrsWithReservedPrefix(t *testing.T) {
	got := canonicalize(t, algorithm.CanonC14N10OmitComments, []xmlevent.Event{
		start("doc", xmlevent.Attr{
			Name:  xmlevent.QName{URI: "http://www.w3.org/XML/1998/namespace", Local: "id"},
			Value: "x",
		}),
		end("doc"),
	})
	assert.Equal(t, `<doc xml:id="x"></doc>`, got, "the xml prefix is reserved and never declared")
}

func TestCanonicalizerAssignsSyntheticPrefixForNamespacedAttr(t *testing.T) {
	got := canonicalize(t, algorithm.CanonC14N10OmitComments, []xmlevent.Event{
		start("doc", xmlevent.Attr{Name: xmlevent.QName{URI: "urn:x", Local: "attr"}, Value: "v"}),
		end("doc"),
	})
	assert.Equal(t, `<doc xmlns:n0="urn:x" n0:attr="v"></doc>`, got)
}

func TestCanonicalizerRendersSourcePrefixedDeclarations(t *testing.T) {
	ev := xmlevent.Event{
		Kind:       xmlevent.StartElement,
		Name:       xmlevent.QName{Local: "doc"},
		Namespaces: []xmlevent.NSDecl{{Prefix: "p", URI: "urn:p"}},
	}

	inclusive := canonicalize(t, algorithm.CanonC14N10OmitComments, []xmlevent.Event{ev, end("doc")})
	assert.Equal(t, `<doc xmlns:p="urn:p"></doc>`, inclusive,
		"inclusive canonicalization renders every declared namespace node")

	exclusive := canonicalize(t, algorithm.CanonExclusiveC14N, []xmlevent.Event{ev, end("doc")})
	assert.Equal(t, `<doc></doc>`, exclusive,
		"exclusive canonicalization drops unutilized declarations")
}

func TestCanonicalizerHonorsInclusivePrefixList(t *testing.T) {
	var out bytes.Buffer
	c, err := NewCanonicalizer(algorithm.CanonExclusiveC14N, []string{"foo"}, &out)
	require.NoError(t, err)

	require.NoError(t, c.HandleEvent(xmlevent.Event{
		Kind:       xmlevent.StartElement,
		Name:       xmlevent.QName{Local: "doc"},
		Namespaces: []xmlevent.NSDecl{{Prefix: "foo", URI: "urn:f"}, {Prefix: "bar", URI: "urn:b"}},
	}))
	require.NoError(t, c.HandleEvent(end("doc")))

	assert.Equal(t, `<doc xmlns:foo="urn:f"></doc>`, out.String(),
		"only prefixes named in the InclusiveNamespaces list survive exclusive canonicalization")
}

func TestCanonicalizerRejectsUnknownAlgorithm(t *testing.T) {
	var out bytes.Buffer
	_, err := NewCanonicalizer("urn:not-a-canon-algorithm", nil, &out)
	require.Error(t, err)
}

func TestBuildEventChainDefaultsToC14N10(t *testing.T) {
	reg := algorithm.MustNewRegistry()
	var out bytes.Buffer
	chain, err := BuildEventChain(nil, reg, &out)
	require.NoError(t, err)

	require.NoError(t, chain.HandleEvent(start("doc")))
	require.NoError(t, chain.HandleEvent(comment("dropped")))
	require.NoError(t, chain.HandleEvent(end("doc")))
	assert.Equal(t, "<doc></doc>", out.String(), "default chain must be Canonical-XML 1.0 omit-comments")
}

func TestBuildEventChainAppendsC14NAfterEnvelopedSignature(t *testing.T) {
	reg := algorithm.MustNewRegistry()
	var out bytes.Buffer
	chain, err := BuildEventChain([]TransformSpec{{AlgorithmURI: algorithm.TransformEnveloped}}, reg, &out)
	require.NoError(t, err)

	sigStart := xmlevent.Event{Kind: xmlevent.StartElement, Name: xmlevent.QName{URI: DSigNamespace, Local: "Signature"}}
	sigEnd := xmlevent.Event{Kind: xmlevent.EndElement, Name: xmlevent.QName{URI: DSigNamespace, Local: "Signature"}}

	for _, ev := range []xmlevent.Event{
		start("doc"),
		text("kept"),
		sigStart,
		start("SignedInfo"),
		end("SignedInfo"),
		sigEnd,
		end("doc"),
	} {
		require.NoError(t, chain.HandleEvent(ev))
	}

	assert.Equal(t, "<doc>kept</doc>", out.String(), "Signature subtree must be dropped, remainder canonicalized")
}

func TestBuildEventChainRejectsNonTerminalCanonicalization(t *testing.T) {
	reg := algorithm.MustNewRegistry()
	var out bytes.Buffer
	_, err := BuildEventChain([]TransformSpec{
		{AlgorithmURI: algorithm.CanonC14N10OmitComments},
		{AlgorithmURI: algorithm.TransformEnveloped},
	}, reg, &out)
	require.Error(t, err)
}

func TestEnvelopedTransformHandlesNestedSignatures(t *testing.T) {
	var received []xmlevent.Event
	tr := NewEnvelopedSignatureTransform()
	tr.setNext(eventCollector{&received})

	sigStart := xmlevent.Event{Kind: xmlevent.StartElement, Name: xmlevent.QName{URI: DSigNamespace, Local: "Signature"}}
	sigEnd := xmlevent.Event{Kind: xmlevent.EndElement, Name: xmlevent.QName{URI: DSigNamespace, Local: "Signature"}}

	for _, ev := range []xmlevent.Event{
		start("doc"),
		sigStart,
		start("inner"),
		sigStart, // nested Signature inside the suppressed subtree
		sigEnd,
		end("inner"),
		sigEnd,
		text("after"),
		end("doc"),
	} {
		require.NoError(t, tr.HandleEvent(ev))
	}

	require.Len(t, received, 3)
	assert.Equal(t, xmlevent.StartElement, received[0].Kind)
	assert.Equal(t, "after", received[1].Data)
	assert.Equal(t, xmlevent.EndElement, received[2].Kind)
}

type eventCollector struct {
	events *[]xmlevent.Event
}

func (c eventCollector) HandleEvent(ev xmlevent.Event) error {
	*c.events = append(*c.events, ev)
	return nil
}

func TestBuildByteChainBase64Decode(t *testing.T) {
	var out bytes.Buffer
	chain, err := BuildByteChain([]TransformSpec{{AlgorithmURI: "http://www.w3.org/2000/09/xmldsig#base64"}}, &out)
	require.NoError(t, err)

	_, err = chain.Write([]byte("aGVsbG8g"))
	require.NoError(t, err)
	_, err = chain.Write([]byte("d29ybGQ="))
	require.NoError(t, err)
	require.NoError(t, chain.Close())

	assert.Equal(t, "hello world", out.String())
}

func TestBuildByteChainIdentityDefault(t *testing.T) {
	var out bytes.Buffer
	chain, err := BuildByteChain(nil, &out)
	require.NoError(t, err)

	_, err = chain.Write([]byte("raw bytes"))
	require.NoError(t, err)
	require.NoError(t, chain.Close())
	assert.Equal(t, "raw bytes", out.String())
}
