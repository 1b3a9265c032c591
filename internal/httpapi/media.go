package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/acme/outdial/internal/bridge"
	"github.com/acme/outdial/internal/protocol"
)

const startFrameTimeout = 10 * time.Second

// handleMediaStream accepts the provider's media websocket. The first frame
// must be the stream start event carrying the provider call id; it binds the
// connection to the bridge created at dial time. The handler then parks
// until the bridge shuts down, keeping the connection's lifetime tied to the
// call's.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(startFrameTimeout))
	start, err := s.readStreamStart(conn)
	if err != nil {
		s.log.WithError(err).Warn("media stream rejected")
		conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	sess, err := s.calls.GetByProviderID(start.ProviderCallID)
	if err != nil {
		s.log.WithField("provider_call_id", start.ProviderCallID).Warn("media stream for unknown call")
		conn.Close()
		return
	}
	br, ok := s.bridges.Get(sess.ID)
	if !ok {
		s.log.WithField("call_id", sess.ID).Warn("media stream for call without a bridge")
		conn.Close()
		return
	}

	s.metrics.CallEvents.WithLabelValues("media_connected").Inc()
	br.AttachTelephony(bridge.NewWSChannel(conn))
	<-br.Done()
}

func (s *Server) readStreamStart(conn *websocket.Conn) (protocol.StreamStart, error) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return protocol.StreamStart{}, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := protocol.ParseTelephonyMessage(data)
		if err != nil {
			return protocol.StreamStart{}, err
		}
		start, ok := msg.(protocol.StreamStart)
		if !ok {
			return protocol.StreamStart{}, protocol.ErrUnsupportedType
		}
		return start, nil
	}
}
