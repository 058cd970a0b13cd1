package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"craftworker/core/events"
	"craftworker/core/transcode"
	"craftworker/logger"
	"craftworker/model"
)

const (
	eventTranscode = "transcode"
	eventAck       = "ack"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 20
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// inbound is a frame sent by a job submitter.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outbound is a frame sent back to the submitter.
type outbound struct {
	Event string      `json:"event"`
	JobID string      `json:"jobId,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// jobSession is one websocket connection. Closing it cancels every job it started.
type jobSession struct {
	srv    *Server
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	jobs   sync.WaitGroup
	log    *zap.Logger
}

func (s *Server) jobSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("WebSocket upgrade failed", logger.ErrorField(err))
		return
	}

	fields := []zap.Field{zap.String("remote", r.RemoteAddr)}
	if sub, ok := SubjectFromContext(r.Context()); ok {
		fields = append(fields, zap.String("subject", sub))
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &jobSession{
		srv:    s,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
		log:    s.log.With(fields...),
	}
	sess.log.Info("Job channel opened")

	go sess.writePump()
	go sess.readPump()
}

func (c *jobSession) readPump() {
	defer func() {
		c.cancel()
		c.jobs.Wait()
		c.conn.Close()
		c.log.Info("Job channel closed")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read error", logger.ErrorField(err))
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			c.log.Warn("invalid message format", logger.ErrorField(err))
			continue
		}
		c.handle(msg)
	}
}

func (c *jobSession) handle(msg inbound) {
	if msg.Event == eventTranscode {
		c.startJob(msg.Data)
		return
	}
	if jobID, ok := events.KillTarget(msg.Event); ok {
		delivered, err := c.srv.bus.RequestKill(c.ctx, jobID)
		if err != nil {
			c.log.Warn("Kill request failed", logger.JobID(jobID), logger.ErrorField(err))
			return
		}
		c.log.Info("Kill requested", logger.JobID(jobID), logger.Bool("delivered", delivered))
		return
	}
	c.log.Debug("Ignoring unknown event", zap.String("event", msg.Event))
}

func (c *jobSession) startJob(raw json.RawMessage) {
	req, err := transcode.DecodeRequest(raw)
	if err != nil {
		c.emit(outbound{Event: eventAck, JobID: peekJobID(raw), Data: transcode.ErrorAck(err)})
		return
	}

	sink := c.srv.bus.Sink(c.ctx, transcode.SinkFunc(func(p model.Progress) {
		c.emit(outbound{
			Event: events.ProgressEvent(p.JobID),
			Data:  events.ProgressPayload{Percent: p.Percent},
		})
	}))

	c.jobs.Add(1)
	go func() {
		defer c.jobs.Done()
		ack := c.srv.runner.Run(c.ctx, req, sink)
		c.emit(outbound{Event: eventAck, JobID: req.JobID, Data: ack})
	}()
}

// emit queues a frame, giving up once the connection is gone.
func (c *jobSession) emit(msg outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("Failed to encode frame", logger.ErrorField(err))
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	}
}

func (c *jobSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.cancel()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func peekJobID(raw json.RawMessage) string {
	var probe struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.JobID
}
