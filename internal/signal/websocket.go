package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"

	"github.com/classmesh/classmedia/internal/rtcerrors"
)

const (
	methodDescription = "description"
	methodTrickle     = "trickle"
)

type descriptionParams struct {
	ParticipantID string                    `json:"participantId"`
	Description   webrtc.SessionDescription `json:"description"`
}

type trickleParams struct {
	ParticipantID string                  `json:"participantId"`
	Candidate     webrtc.ICECandidateInit `json:"candidate"`
}

// WSChannel implements Channel over a WebSocket carrying JSON-RPC framed
// messages.
type WSChannel struct {
	conn         *websocket.Conn
	log          *zap.Logger
	writeTimeout time.Duration
	pingInterval time.Duration

	writeMu sync.Mutex
}

func NewWSChannel(conn *websocket.Conn, writeTimeout, pingInterval time.Duration, log *zap.Logger) *WSChannel {
	return &WSChannel{
		conn:         conn,
		log:          log.Named("signal"),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
	}
}

// Dial connects to the signaling server.
func Dial(ctx context.Context, url string, writeTimeout, pingInterval time.Duration, log *zap.Logger) (*WSChannel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, rtcerrors.Wrap(err, rtcerrors.KindNetwork, rtcerrors.CodeSignalingDelivery, "signaling dial failed")
	}
	return NewWSChannel(conn, writeTimeout, pingInterval, log), nil
}

func (c *WSChannel) SendDescription(_ context.Context, participantID string, desc webrtc.SessionDescription) error {
	return c.sendRequest(methodDescription, descriptionParams{
		ParticipantID: participantID,
		Description:   desc,
	})
}

func (c *WSChannel) SendCandidate(_ context.Context, participantID string, cand webrtc.ICECandidateInit) error {
	return c.sendRequest(methodTrickle, trickleParams{
		ParticipantID: participantID,
		Candidate:     cand,
	})
}

func (c *WSChannel) sendRequest(method string, params interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return rtcerrors.Wrap(err, rtcerrors.KindNetwork, rtcerrors.CodeSignalingDelivery, "failed to marshal signaling params")
	}
	req := &jsonrpc2.Request{
		Method: method,
		Params: (*json.RawMessage)(&raw),
		ID:     jsonrpc2.ID{Num: uint64(uuid.New().ID())},
	}

	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(req); err != nil {
		return rtcerrors.Wrap(err, rtcerrors.KindNetwork, rtcerrors.CodeSignalingDelivery, "failed to encode signaling request")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, buf.Bytes()); err != nil {
		return rtcerrors.Wrap(err, rtcerrors.KindNetwork, rtcerrors.CodeSignalingDelivery, "failed to write signaling message")
	}
	return nil
}

// Run reads inbound messages and dispatches them to the handler until the
// context is cancelled or the connection drops.
func (c *WSChannel) Run(ctx context.Context, handler Handler) error {
	if c.pingInterval > 0 {
		go c.pingLoop(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("signaling connection closed unexpectedly", zap.Error(err))
			}
			return rtcerrors.Wrap(err, rtcerrors.KindNetwork, rtcerrors.CodeSignalingDelivery, "signaling read failed")
		}
		if err := c.dispatch(message, handler); err != nil {
			c.log.Warn("failed to handle signaling message", zap.Error(err))
		}
	}
}

func (c *WSChannel) dispatch(message []byte, handler Handler) error {
	var req jsonrpc2.Request
	if err := json.Unmarshal(message, &req); err != nil {
		return fmt.Errorf("failed to unmarshal signaling message: %w", err)
	}
	if req.Params == nil {
		return fmt.Errorf("signaling message %q has no params", req.Method)
	}

	switch req.Method {
	case methodDescription:
		var p descriptionParams
		if err := json.Unmarshal(*req.Params, &p); err != nil {
			return fmt.Errorf("bad description params: %w", err)
		}
		handler.HandleRemoteDescription(p.ParticipantID, p.Description)
	case methodTrickle:
		var p trickleParams
		if err := json.Unmarshal(*req.Params, &p); err != nil {
			return fmt.Errorf("bad trickle params: %w", err)
		}
		handler.HandleRemoteCandidate(p.ParticipantID, p.Candidate)
	default:
		return fmt.Errorf("unknown signaling method: %s", req.Method)
	}
	return nil
}

func (c *WSChannel) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.log.Warn("signaling ping failed", zap.Error(err))
			}
		}
	}
}

// Close closes the underlying connection.
func (c *WSChannel) Close() error {
	return c.conn.Close()
}
