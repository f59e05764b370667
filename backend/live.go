package backend

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bringyour/social/social"
)

var liveUpgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
	// live queries authenticate with the first frame, not with cookies
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type liveMessage struct {
	frameBytes []byte
	// the connection ends after this message
	terminal bool
}

// One live query per connection:
// auth -> authResult, subscribe -> snapshot*, and a terminal error frame on failure.
// Both sides send an empty binary message as a ping.
func (self *Server) live(c *gin.Context) {
	ws, err := liveUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader wrote the http error
		glog.V(1).Infof("[live]upgrade error = %s\n", err)
		return
	}
	defer ws.Close()

	connectionId := uuid.NewString()
	settings := &self.settings.Live

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	ws.SetReadLimit(settings.MaxMessageSize)

	writeErrorFrame := func(err error) {
		glog.V(1).Infof("[live]%s error = %s\n", connectionId, err)
		ws.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
		ws.WriteMessage(websocket.BinaryMessage, social.RequireEncodeFrame(&social.Frame{
			Type: social.FrameTypeError,
			Body: social.ErrorToMap(err),
		}))
	}

	ws.SetReadDeadline(time.Now().Add(settings.AuthTimeout))
	authFrame, err := readFrame(ws)
	if err != nil {
		glog.V(1).Infof("[live]%s auth read error = %s\n", connectionId, err)
		return
	}
	if authFrame.Type != social.FrameTypeAuth {
		writeErrorFrame(social.NewAuthError("Expected auth, got %s", authFrame.Type))
		return
	}
	jwt, _ := authFrame.Body["jwt"].(string)
	identity, err := self.accounts.Verify(handleCtx, jwt)
	if err != nil {
		writeErrorFrame(err)
		return
	}
	ws.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
	err = ws.WriteMessage(websocket.BinaryMessage, social.RequireEncodeFrame(&social.Frame{
		Type: social.FrameTypeAuthResult,
		Body: map[string]any{"uid": string(identity.Id)},
	}))
	if err != nil {
		return
	}

	ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
	subscribeFrame, err := readFrame(ws)
	if err != nil {
		glog.V(1).Infof("[live]%s subscribe read error = %s\n", connectionId, err)
		return
	}
	if subscribeFrame.Type != social.FrameTypeSubscribe {
		writeErrorFrame(social.NewValidationError("Expected subscribe, got %s", subscribeFrame.Type))
		return
	}
	queryMap, _ := subscribeFrame.Body["query"].(map[string]any)
	query, err := social.QueryFromMap(queryMap)
	if err != nil {
		writeErrorFrame(err)
		return
	}
	if err := self.rules.CheckQuery(identity, query); err != nil {
		writeErrorFrame(err)
		return
	}

	self.metrics.LiveOpen()
	defer self.metrics.LiveClose()
	glog.V(1).Infof("[live]%s %s subscribe %s\n", connectionId, identity.Id, query)

	send := make(chan *liveMessage)
	unsub, err := self.store.Subscribe(handleCtx, query, func(snapshot *social.Snapshot, err error) {
		var message *liveMessage
		if err != nil {
			message = &liveMessage{
				frameBytes: social.RequireEncodeFrame(&social.Frame{
					Type: social.FrameTypeError,
					Body: social.ErrorToMap(err),
				}),
				terminal: true,
			}
		} else {
			frameBytes, err := social.EncodeFrame(&social.Frame{
				Type: social.FrameTypeSnapshot,
				Body: social.SnapshotToMap(snapshot),
			})
			if err != nil {
				message = &liveMessage{
					frameBytes: social.RequireEncodeFrame(&social.Frame{
						Type: social.FrameTypeError,
						Body: social.ErrorToMap(social.NewValidationError("Snapshot cannot be encoded: %s", err)),
					}),
					terminal: true,
				}
			} else {
				message = &liveMessage{
					frameBytes: frameBytes,
				}
			}
		}
		select {
		case <-handleCtx.Done():
		case send <- message:
		}
	})
	if err != nil {
		writeErrorFrame(err)
		return
	}
	defer unsub()

	go func() {
		defer handleCancel()

		for {
			ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
			messageType, message, err := ws.ReadMessage()
			if err != nil {
				return
			}
			switch messageType {
			case websocket.BinaryMessage:
				if 0 == len(message) {
					// ping
					continue
				}
				glog.V(2).Infof("[live]%s unexpected frame\n", connectionId)
			default:
				glog.V(2).Infof("[live]%s other=%d\n", connectionId, messageType)
			}
		}
	}()

	for {
		select {
		case <-handleCtx.Done():
			return
		case message := <-send:
			ws.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
			if err := ws.WriteMessage(websocket.BinaryMessage, message.frameBytes); err != nil {
				return
			}
			if message.terminal {
				return
			}
			self.metrics.LiveSnapshot()
		case <-time.After(settings.PingTimeout):
			ws.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
			if err := ws.WriteMessage(websocket.BinaryMessage, make([]byte, 0)); err != nil {
				// note that for websocket a deadline timeout cannot be recovered
				return
			}
		}
	}
}

// skips pings
func readFrame(ws *websocket.Conn) (*social.Frame, error) {
	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.BinaryMessage {
			return nil, fmt.Errorf("Unexpected message type %d.", messageType)
		}
		if 0 == len(message) {
			continue
		}
		return social.DecodeFrame(message)
	}
}
