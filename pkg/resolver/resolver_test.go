package resolver

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xmlsecflow/pkg/helper/errors"
	"xmlsecflow/pkg/xmlevent"
)

func startWithAttrs(local string, attrs ...xmlevent.Attr) xmlevent.Event {
	return xmlevent.Event{Kind: xmlevent.StartElement, Name: xmlevent.QName{Local: local}, Attrs: attrs}
}

func TestNewSameDocumentRejectsNonFragmentURI(t *testing.T) {
	_, err := NewSameDocument("http://example.org/doc")
	require.Error(t, err)

	_, err = NewSameDocument("#")
	require.Error(t, err)
}

func TestSameDocumentMatchesIdAttribute(t *testing.T) {
	r, err := NewSameDocument("#target")
	require.NoError(t, err)

	assert.True(t, r.Matches(startWithAttrs("data", xmlevent.Attr{Name: xmlevent.QName{Local: "Id"}, Value: "target"})))
	assert.False(t, r.Matches(startWithAttrs("data", xmlevent.Attr{Name: xmlevent.QName{Local: "Id"}, Value: "other"})))
	assert.False(t, r.Matches(startWithAttrs("data")))
	assert.False(t, r.Matches(xmlevent.Event{Kind: xmlevent.Text, Data: "target"}))
}

func TestSameDocumentMatchesXMLID(t *testing.T) {
	r, err := NewSameDocument("#target")
	require.NoError(t, err)

	ev := startWithAttrs("data", xmlevent.Attr{
		Name:  xmlevent.QName{URI: "http://www.w3.org/XML/1998/namespace", Local: "id"},
		Value: "target",
	})
	assert.True(t, r.Matches(ev))
}

type fakeResolver struct {
	prefix string
	body   string
	calls  int
}

func (f *fakeResolver) Matches(uri string) bool {
	return strings.HasPrefix(uri, f.prefix)
}

func (f *fakeResolver) Resolve(_ context.Context, _ string) (io.ReadCloser, error) {
	f.calls++
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func TestExternalRegistryRefusesWhenDisabled(t *testing.T) {
	reg := NewExternalRegistry(false, nil)
	reg.Register(&fakeResolver{prefix: "http://", body: "never"})

	_, err := reg.Resolve(context.Background(), "http://example.org/")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidSecurity))
}

func TestExternalRegistryRejectsSchemelessURI(t *testing.T) {
	reg := NewExternalRegistry(true, nil)
	_, err := reg.Resolve(context.Background(), "no-scheme-here")
	require.Error(t, err)
}

func TestExternalRegistryFirstMatchWins(t *testing.T) {
	first := &fakeResolver{prefix: "http://", body: "first"}
	second := &fakeResolver{prefix: "http://", body: "second"}
	reg := NewExternalRegistry(true, nil)
	reg.Register(first)
	reg.Register(second)

	rc, err := reg.Resolve(context.Background(), "http://example.org/")
	require.NoError(t, err)
	defer rc.Close()

	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "first", string(body))
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls)
}

func TestExternalRegistryNoMatch(t *testing.T) {
	reg := NewExternalRegistry(true, nil)
	reg.Register(&fakeResolver{prefix: "ftp://"})

	_, err := reg.Resolve(context.Background(), "http://example.org/")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestRateThrottleAllowsWithinBurst(t *testing.T) {
	throttle := NewRateThrottle(100, 2)
	require.NoError(t, throttle.Wait(context.Background()))
	require.NoError(t, throttle.Wait(context.Background()))
}
