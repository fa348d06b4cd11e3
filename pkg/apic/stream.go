package apic

import (
	"context"
	"net/url"

	"github.com/gorilla/websocket"
)

// Stream is the inbound side of the controller push channel
type Stream interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// OpenStream opens the websocket at wss://<host>/socket<token>. Frames are
// query responses in the same imdata shape as polled queries.
func (c *Client) OpenStream(ctx context.Context) (Stream, error) {
	sess := c.session.Load()
	if sess == nil {
		return nil, ErrNotConnected
	}

	u := url.URL{Scheme: "wss", Host: sess.Address(), Path: "/socket" + sess.Token}
	dialer := websocket.Dialer{
		TLSClientConfig:  c.cfg.TLSConfig,
		HandshakeTimeout: c.cfg.Timeout,
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, &NetworkError{Op: "open stream " + sess.Address(), Err: err}
	}

	c.logger.Info().Str("endpoint", sess.Address()).Msg("Stream opened")
	return conn, nil
}
