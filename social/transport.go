package social

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type LiveTransportSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	// first reconnect delay. Doubles per attempt up to `MaxReconnectTimeout`.
	ReconnectTimeout     time.Duration
	MaxReconnectTimeout  time.Duration
	MaxReconnectAttempts int
	PingTimeout          time.Duration
	WriteTimeout         time.Duration
	ReadTimeout          time.Duration
}

func DefaultLiveTransportSettings() *LiveTransportSettings {
	return &LiveTransportSettings{
		WsHandshakeTimeout:   5 * time.Second,
		AuthTimeout:          5 * time.Second,
		ReconnectTimeout:     1 * time.Second,
		MaxReconnectTimeout:  30 * time.Second,
		MaxReconnectAttempts: 8,
		PingTimeout:          5 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReadTimeout:          15 * time.Second,
	}
}

// One websocket per live query.
// The connection is authenticated with the first frame, then subscribes, then
// receives a full snapshot per change. Network loss reconnects with backoff and
// re-subscribes; the next full snapshot replaces the set. Auth, permission and
// validation errors are terminal.
type LiveTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	liveUrl          string
	jwt              string
	query            *Query
	snapshotCallback SnapshotCallback

	settings *LiveTransportSettings
}

func NewLiveTransportWithDefaults(
	ctx context.Context,
	liveUrl string,
	jwt string,
	query *Query,
	snapshotCallback SnapshotCallback,
) *LiveTransport {
	return NewLiveTransport(ctx, liveUrl, jwt, query, snapshotCallback, DefaultLiveTransportSettings())
}

func NewLiveTransport(
	ctx context.Context,
	liveUrl string,
	jwt string,
	query *Query,
	snapshotCallback SnapshotCallback,
	settings *LiveTransportSettings,
) *LiveTransport {
	cancelCtx, cancel := context.WithCancel(ctx)
	transport := &LiveTransport{
		ctx:              cancelCtx,
		cancel:           cancel,
		liveUrl:          liveUrl,
		jwt:              jwt,
		query:            query,
		snapshotCallback: snapshotCallback,
		settings:         settings,
	}
	go HandleError(transport.run)
	return transport
}

func isTerminal(err error) bool {
	switch KindOf(err) {
	case ErrorKindAuth, ErrorKindPermission, ErrorKindValidation, ErrorKindNotFound:
		return true
	default:
		return false
	}
}

func (self *LiveTransport) run() {
	defer self.cancel()

	authBytes, err := EncodeFrame(&Frame{
		Type: FrameTypeAuth,
		Body: map[string]any{"jwt": self.jwt},
	})
	if err != nil {
		self.deliver(nil, err)
		return
	}
	subscribeBytes, err := EncodeFrame(&Frame{
		Type: FrameTypeSubscribe,
		Body: map[string]any{"query": QueryToMap(self.query)},
	})
	if err != nil {
		self.deliver(nil, err)
		return
	}

	reconnect := NewReconnect(self.settings.ReconnectTimeout, self.settings.MaxReconnectTimeout)
	for {
		connect := func() (*websocket.Conn, error) {
			dialer := &websocket.Dialer{
				HandshakeTimeout: self.settings.WsHandshakeTimeout,
			}
			ws, _, err := dialer.DialContext(self.ctx, self.liveUrl, nil)
			if err != nil {
				return nil, NewNetworkError(err)
			}

			success := false
			defer func() {
				if !success {
					ws.Close()
				}
			}()

			ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
			if err := ws.WriteMessage(websocket.BinaryMessage, authBytes); err != nil {
				return nil, NewNetworkError(err)
			}
			ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
			if messageType, message, err := ws.ReadMessage(); err != nil {
				return nil, NewNetworkError(err)
			} else {
				if messageType != websocket.BinaryMessage {
					return nil, NewNetworkError(fmt.Errorf("Auth response error."))
				}
				frame, err := DecodeFrame(message)
				if err != nil {
					return nil, NewNetworkError(err)
				}
				switch frame.Type {
				case FrameTypeAuthResult:
				case FrameTypeError:
					return nil, ErrorFromMap(frame.Body)
				default:
					return nil, NewNetworkError(fmt.Errorf("Auth response error: %s", frame.Type))
				}
			}

			ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := ws.WriteMessage(websocket.BinaryMessage, subscribeBytes); err != nil {
				return nil, NewNetworkError(err)
			}

			success = true
			return ws, nil
		}

		var ws *websocket.Conn
		var err error
		if glog.V(2) {
			ws, err = TraceWithReturnError(fmt.Sprintf("[lt]connect %s", self.query), connect)
		} else {
			ws, err = connect()
		}
		if err == nil {
			err = self.handle(ws, reconnect)
		}

		select {
		case <-self.ctx.Done():
			return
		default:
		}

		if isTerminal(err) {
			self.deliver(nil, err)
			return
		}
		glog.Infof("[lt]%s error = %s\n", self.query, err)
		if self.settings.MaxReconnectAttempts <= reconnect.Attempts() {
			self.deliver(nil, WrapError(
				ErrorKindNetwork,
				err,
				"Live query lost after %d reconnect attempts",
				reconnect.Attempts(),
			))
			return
		}
		if !reconnect.Wait(self.ctx) {
			return
		}
	}
}

// reads snapshots until the connection ends. Returns the reason.
func (self *LiveTransport) handle(ws *websocket.Conn, reconnect *Reconnect) error {
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.BinaryMessage, make([]byte, 0)); err != nil {
					// note that for websocket a deadline timeout cannot be recovered
					return
				}
			}
		}
	}()

	go func() {
		// unblock the read on cancel
		<-handleCtx.Done()
		ws.Close()
	}()

	for {
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			return NewNetworkError(err)
		}

		switch messageType {
		case websocket.BinaryMessage:
			if 0 == len(message) {
				// ping
				glog.V(2).Infof("[lt]ping %s<-\n", self.query)
				continue
			}
			frame, err := DecodeFrame(message)
			if err != nil {
				return NewNetworkError(err)
			}
			switch frame.Type {
			case FrameTypeSnapshot:
				snapshot, err := SnapshotFromMap(frame.Body)
				if err != nil {
					return NewNetworkError(err)
				}
				reconnect.Reset()
				glog.V(2).Infof("[lt]%s<- snapshot (%d)\n", self.query, len(snapshot.Documents))
				self.deliver(snapshot, nil)
			case FrameTypeError:
				return ErrorFromMap(frame.Body)
			default:
				glog.V(2).Infof("[lt]other=%s %s<-\n", frame.Type, self.query)
			}
		default:
			glog.V(2).Infof("[lt]other=%d %s<-\n", messageType, self.query)
		}
	}
}

// no callbacks after close
func (self *LiveTransport) deliver(snapshot *Snapshot, err error) {
	select {
	case <-self.ctx.Done():
		return
	default:
	}
	self.snapshotCallback(snapshot, err)
}

func (self *LiveTransport) Close() {
	self.cancel()
}
