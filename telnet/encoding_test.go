package telnet

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uSpike/telnetio"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

func TestDefaultEncodingASCII(t *testing.T) {
	var output bytes.Buffer
	tcp := &mockConn{Reader: bytes.NewReader([]byte{telnetio.IAC, telnetio.IAC, 128, 129}), Writer: &output}
	telnet := Wrap(context.Background(), tcp)

	// the decoder replaces non-ASCII input with U+FFFD; the encoder
	// substitutes ASCIISub
	buf := make([]byte, bufsize)
	n, err := telnet.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte("\ufffd\ufffd\ufffd"), buf[:n])

	n, err = telnet.Write([]byte{telnetio.IAC, 128, 129})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []byte{
		encoding.ASCIISub, encoding.ASCIISub, encoding.ASCIISub, telnetio.IAC, telnetio.GA,
	}, output.Bytes())
}

func TestTransmitBinary(t *testing.T) {
	var output bytes.Buffer
	tcp := &mockConn{Writer: io.Discard}
	telnet := Wrap(context.Background(), tcp)

	unregister := telnet.RegisterHandler(&TransmitBinaryHandler{})

	tcp.Reader = bytes.NewReader([]byte{
		telnetio.IAC, telnetio.DO, telnetio.TransmitBinary,
		telnetio.IAC, telnetio.WILL, telnetio.TransmitBinary,
	})
	buf := make([]byte, bufsize)
	_, err := telnet.Read(buf)
	require.NoError(t, err)
	them, us := telnet.GetOption(telnetio.TransmitBinary).Enabled()
	require.True(t, them)
	require.True(t, us)

	tcp.Reader = bytes.NewReader([]byte{128, 129, telnetio.IAC, telnetio.IAC})
	n, err := telnet.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{128, 129, telnetio.IAC}, buf[:n])

	tcp.Writer = &output
	_, err = telnet.Write([]byte{telnetio.IAC, 254, 253})
	require.NoError(t, err)
	require.Equal(t, []byte{
		telnetio.IAC, telnetio.IAC, 254, 253, telnetio.IAC, telnetio.GA,
	}, output.Bytes())

	// tearing the handler down withdraws the option and restores ASCII
	output.Reset()
	unregister()
	require.Equal(t, []byte{
		telnetio.IAC, telnetio.DONT, telnetio.TransmitBinary,
		telnetio.IAC, telnetio.WONT, telnetio.TransmitBinary,
	}, output.Bytes())

	output.Reset()
	_, err = telnet.Write([]byte{128})
	require.NoError(t, err)
	require.Equal(t, []byte{encoding.ASCIISub, telnetio.IAC, telnetio.GA}, output.Bytes())
}

func TestCharsetRequestEncoding(t *testing.T) {
	var output bytes.Buffer
	tcp := &mockConn{Writer: &output}
	telnet := Wrap(context.Background(), tcp)

	h := &CharsetHandler{}
	telnet.RegisterHandler(h)

	require.Error(t, h.RequestEncoding(unicode.UTF8), "charset option not enabled")

	tcp.Reader = bytes.NewReader([]byte{telnetio.IAC, telnetio.DO, telnetio.Charset})
	buf := make([]byte, bufsize)
	_, err := telnet.Read(buf)
	require.NoError(t, err)
	require.True(t, telnet.GetOption(telnetio.Charset).EnabledForUs())

	output.Reset()
	require.NoError(t, h.RequestEncoding(unicode.UTF8))
	expected := []byte{telnetio.IAC, telnetio.SB, telnetio.Charset, telnetio.CharsetRequest}
	expected = append(expected, ";UTF-8"...)
	expected = append(expected, telnetio.IAC, telnetio.SE)
	require.Equal(t, expected, output.Bytes())

	accepted := []byte{telnetio.IAC, telnetio.SB, telnetio.Charset, telnetio.CharsetAccepted}
	accepted = append(accepted, "UTF-8"...)
	accepted = append(accepted, telnetio.IAC, telnetio.SE)
	tcp.Reader = bytes.NewReader(accepted)
	_, err = telnet.Read(buf)
	require.NoError(t, err)

	require.NotNil(t, h.enc)
	name, err := ianaindex.IANA.Name(h.enc)
	require.NoError(t, err)
	require.Equal(t, "UTF-8", name)
}

func TestCharsetHandleRequest(t *testing.T) {
	var output bytes.Buffer
	tcp := &mockConn{Writer: &output}
	telnet := Wrap(context.Background(), tcp)

	h := &CharsetHandler{IsServer: true}
	telnet.RegisterHandler(h)

	tcp.Reader = bytes.NewReader([]byte{telnetio.IAC, telnetio.DO, telnetio.Charset})
	buf := make([]byte, bufsize)
	_, err := telnet.Read(buf)
	require.NoError(t, err)

	output.Reset()
	request := []byte{telnetio.IAC, telnetio.SB, telnetio.Charset, telnetio.CharsetRequest}
	request = append(request, ";UTF-8;ISO-8859-1"...)
	request = append(request, telnetio.IAC, telnetio.SE)
	// the request is longer than one Read's worth of socket bytes
	reader := bytes.NewReader(request)
	tcp.Reader = reader
	for reader.Len() > 0 {
		_, err = telnet.Read(buf)
		require.NoError(t, err)
	}

	expected := []byte{telnetio.IAC, telnetio.SB, telnetio.Charset, telnetio.CharsetAccepted}
	expected = append(expected, "UTF-8"...)
	expected = append(expected, telnetio.IAC, telnetio.SE)
	require.Equal(t, expected, output.Bytes())

	name, err := ianaindex.IANA.Name(h.enc)
	require.NoError(t, err)
	require.Equal(t, "UTF-8", name)
}

func TestCharsetRejectUnknown(t *testing.T) {
	var output bytes.Buffer
	tcp := &mockConn{Writer: &output}
	telnet := Wrap(context.Background(), tcp)

	h := &CharsetHandler{IsServer: true}
	telnet.RegisterHandler(h)

	tcp.Reader = bytes.NewReader([]byte{telnetio.IAC, telnetio.DO, telnetio.Charset})
	buf := make([]byte, bufsize)
	_, err := telnet.Read(buf)
	require.NoError(t, err)

	output.Reset()
	request := []byte{telnetio.IAC, telnetio.SB, telnetio.Charset, telnetio.CharsetRequest}
	request = append(request, ";NO-SUCH-CHARSET"...)
	request = append(request, telnetio.IAC, telnetio.SE)
	reader := bytes.NewReader(request)
	tcp.Reader = reader
	for reader.Len() > 0 {
		_, err = telnet.Read(buf)
		require.NoError(t, err)
	}

	require.Equal(t, []byte{
		telnetio.IAC, telnetio.SB, telnetio.Charset, telnetio.CharsetRejected, telnetio.IAC, telnetio.SE,
	}, output.Bytes())
}
