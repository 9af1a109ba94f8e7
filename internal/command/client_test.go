package command

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sxs-link/internal/fakeproxy"
	"sxs-link/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProxy(t *testing.T, opts fakeproxy.Options) (*fakeproxy.Server, *Client) {
	t.Helper()
	proxy := fakeproxy.New(opts)
	srv := httptest.NewServer(proxy.Handler())
	t.Cleanup(srv.Close)
	return proxy, New(srv.URL+"/sxs/v1/", nil)
}

func TestHandshake_Success(t *testing.T) {
	proxy, client := newProxy(t, fakeproxy.Options{APIKey: "key", Token: "tok-1"})

	token, err := client.Handshake(context.Background(), "PRODUCT", "key")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	raw := proxy.RawCommands()
	require.Len(t, raw, 1)
	assert.NotContains(t, string(raw[0]), "sessionToken")
	assert.JSONEq(t, `{"command":"handshake","productId":"PRODUCT","apiKey":"key"}`, string(raw[0]))
}

func TestHandshake_Rejected(t *testing.T) {
	proxy, client := newProxy(t, fakeproxy.Options{})
	proxy.Reject(protocol.CommandHandshake, "bad key")

	token, err := client.Handshake(context.Background(), "PRODUCT", "key")
	require.Error(t, err)
	assert.Empty(t, token)
	assert.True(t, errors.Is(err, ErrRejected))
	assert.False(t, IsFatal(err))

	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "bad key", rej.Message)
}

func TestHandshake_MissingTokenIsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"isSuccess":true}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).Handshake(context.Background(), "P", "K")
	assert.ErrorIs(t, err, ErrRejected)
}

func TestSend_InjectsToken(t *testing.T) {
	proxy, client := newProxy(t, fakeproxy.Options{Token: "tok-1"})

	resp, err := client.Send(context.Background(), protocol.NewChannelList(), "tok-1")
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess)
	assert.Len(t, resp.Channels, len(fakeproxy.DefaultChannels))

	cmds := proxy.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, "tok-1", cmds[0].SessionToken)
}

func TestSend_ApplicationFailureIsNotError(t *testing.T) {
	proxy, client := newProxy(t, fakeproxy.Options{Token: "tok-1"})
	proxy.Reject(protocol.CommandJoinColorChannel, "no such channel")

	resp, err := client.Send(context.Background(), protocol.NewJoin("9"), "tok-1")
	require.NoError(t, err)
	assert.False(t, resp.IsSuccess)
	assert.Equal(t, "no such channel", resp.ErrorMessage())
}

func TestSendContext_WireShape(t *testing.T) {
	proxy, client := newProxy(t, fakeproxy.Options{Token: "tok-1"})
	_, err := client.Do(context.Background(), protocol.NewJoin("1"), "tok-1")
	require.NoError(t, err)

	require.NoError(t, client.SendContext(context.Background(), "tok-1", "IBM.N"))

	raw := proxy.RawCommands()
	require.Len(t, raw, 2)
	assert.JSONEq(t,
		`{"command":"contextChanged","context":{"entities":[{"RIC":"IBM.N"}]},"sessionToken":"tok-1"}`,
		string(raw[1]))
}

func TestSendContext_EmptyRIC(t *testing.T) {
	_, client := newProxy(t, fakeproxy.Options{})
	err := client.SendContext(context.Background(), "tok", "")
	assert.ErrorIs(t, err, protocol.ErrEmptyReference)
}

func TestSend_ConnectionRefusedIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New(addr, nil).Send(context.Background(), protocol.NewChannelList(), "tok")
	require.Error(t, err)
	assert.True(t, IsFatal(err))

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, protocol.CommandGetColorChannelList, te.Command)
}

func TestSend_MalformedBodyIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).Send(context.Background(), protocol.NewChannelList(), "tok")
	assert.ErrorIs(t, err, ErrTransport)
}

func TestSend_TimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := New(srv.URL, NewHTTPClient(50*time.Millisecond))
	_, err := client.Send(context.Background(), protocol.NewChannelList(), "tok")
	assert.ErrorIs(t, err, ErrTransport)
}

func TestSend_HeadersAndRequestID(t *testing.T) {
	var gotType, gotID string
	var env map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		gotID = r.Header.Get(requestIDHeader)
		json.NewDecoder(r.Body).Decode(&env)
		w.Write([]byte(`{"isSuccess":true}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).Send(context.Background(), protocol.NewChannelList(), "")
	require.NoError(t, err)
	assert.Equal(t, "application/json", gotType)
	assert.NotEmpty(t, gotID)
	_, hasToken := env["sessionToken"]
	assert.False(t, hasToken)
}

func TestRejectionErrorMessage(t *testing.T) {
	err := Rejection(protocol.CommandJoinColorChannel, protocol.NewFailure("nope"))
	assert.True(t, strings.Contains(err.Error(), "nope"))
	assert.Nil(t, Rejection("x", &protocol.Response{IsSuccess: true}))
}
