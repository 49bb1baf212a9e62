package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Engine.IO v4 packet types.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioNoop    = '6'
)

// Socket.IO v5 packet types, carried inside an Engine.IO message.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioAck          = '3'
	sioConnectError = '4'
)

var errMalformed = errors.New("malformed socket.io frame")

// frame is one decoded websocket text message.
type frame struct {
	eio   byte
	sio   byte
	event string
	data  json.RawMessage
}

// handshake is the payload of the Engine.IO open packet.
type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// deadline is how long the server may stay silent before the connection is
// considered dead.
func (h handshake) deadline() time.Duration {
	d := time.Duration(h.PingInterval+h.PingTimeout) * time.Millisecond
	if d <= 0 {
		d = 45 * time.Second
	}
	return d
}

func decodeFrame(b []byte) (frame, error) {
	if len(b) == 0 {
		return frame{}, errMalformed
	}
	f := frame{eio: b[0]}
	rest := b[1:]
	switch f.eio {
	case eioOpen:
		f.data = json.RawMessage(rest)
		return f, nil
	case eioMessage:
	default:
		return f, nil
	}

	if len(rest) == 0 {
		return frame{}, errMalformed
	}
	f.sio = rest[0]
	rest = skipNamespace(rest[1:])

	switch f.sio {
	case sioConnect, sioConnectError:
		f.data = json.RawMessage(rest)
	case sioEvent, sioAck:
		// Optional ack id before the payload array.
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		rest = rest[i:]
		if f.sio == sioAck {
			f.data = json.RawMessage(rest)
			return f, nil
		}
		var parts []json.RawMessage
		if err := json.Unmarshal(rest, &parts); err != nil || len(parts) == 0 {
			return frame{}, fmt.Errorf("%w: %q", errMalformed, b)
		}
		if err := json.Unmarshal(parts[0], &f.event); err != nil {
			return frame{}, fmt.Errorf("%w: event name: %q", errMalformed, b)
		}
		if len(parts) > 1 {
			f.data = parts[1]
		}
	}
	return f, nil
}

// skipNamespace drops a leading "/ns," segment. The default namespace is
// never written on the wire.
func skipNamespace(b []byte) []byte {
	if len(b) == 0 || b[0] != '/' {
		return b
	}
	for i, c := range b {
		if c == ',' {
			return b[i+1:]
		}
	}
	return nil
}

func encodeConnect(auth any) ([]byte, error) {
	out := []byte{eioMessage, sioConnect}
	if auth == nil {
		return out, nil
	}
	b, err := json.Marshal(auth)
	if err != nil {
		return nil, fmt.Errorf("encode auth: %w", err)
	}
	return append(out, b...), nil
}

func encodeEvent(event string, data any) ([]byte, error) {
	b, err := json.Marshal([]any{event, data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return append([]byte{eioMessage, sioEvent}, b...), nil
}

// endpoint turns a configured push URL (http, https, ws or wss) into the
// websocket transport URL of a Socket.IO server.
func endpoint(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse push url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("push url %q: unsupported scheme", raw)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	} else if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
