package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/council"
	"github.com/hupe1980/agentcouncil/internal/util"
	"github.com/hupe1980/agentcouncil/runner"
)

const (
	requestReadTimeout = 30 * time.Second
	maxRequestBytes    = 4 << 20
	sessionTitleChars  = 60
)

// Frame types written to the stream.
const (
	FrameSession = "session"
	FrameEvent   = "event"
	FrameError   = "error"
)

// Frame is one JSON message on the council stream.
type Frame struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	RunID     string      `json:"run_id,omitempty"`
	Event     *core.Event `json:"event,omitempty"`
	Error     string      `json:"error,omitempty"`
}

type wsWriter interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientKey(r)) {
		w.Header().Set("Retry-After", "2")
		writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: s.opts.InsecureSkipVerify,
	})
	if err != nil {
		s.logger.Warn("WebSocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")
	conn.SetReadLimit(maxRequestBytes)

	req, err := readRequest(r.Context(), conn)
	if err != nil {
		_ = writeFrame(r.Context(), conn, Frame{Type: FrameError, Error: err.Error()})
		_ = conn.Close(websocket.StatusUnsupportedData, "invalid request")
		return
	}

	// the run lives as long as the client keeps the connection open
	ctx := conn.CloseRead(r.Context())

	if req.SessionID == "" {
		title := util.Ellipsize(util.FirstLine(req.Input), sessionTitleChars)
		if title == "" && req.Attachment != nil {
			title = req.Attachment.Name
		}
		req.SessionID = s.store.CreateSession(ctx, title, req.Theme, req.UserID)
	}

	runID, events, errs, err := s.runner.Run(ctx, req)
	if err != nil {
		_ = writeFrame(ctx, conn, Frame{Type: FrameError, SessionID: req.SessionID, Error: err.Error()})
		code := websocket.StatusInternalError
		if errors.Is(err, runner.ErrBusy) {
			code = websocket.StatusTryAgainLater
		}
		_ = conn.Close(code, "run rejected")
		return
	}

	if err := writeFrame(ctx, conn, Frame{Type: FrameSession, SessionID: req.SessionID, RunID: runID}); err != nil {
		s.logger.Debug("Stream client went away", "run_id", runID, "error", err)
		return
	}

	if err := streamRun(ctx, runID, events, errs, conn); err != nil {
		s.logger.Debug("Stream ended early", "run_id", runID, "error", err)
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

func readRequest(ctx context.Context, conn *websocket.Conn) (council.Request, error) {
	ctx, cancel := context.WithTimeout(ctx, requestReadTimeout)
	defer cancel()

	var req council.Request
	_, data, err := conn.Read(ctx)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, err
	}
	if strings.TrimSpace(req.Input) == "" && req.Attachment == nil {
		return req, council.ErrEmptyInput
	}
	return req, nil
}

// streamRun forwards run events as frames until both channels close. Run
// errors are reported as an error frame.
func streamRun(ctx context.Context, runID string, events <-chan core.Event, errs <-chan error, writer wsWriter) error {
	var writeErr error
	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if writeErr != nil {
				continue
			}
			writeErr = writeFrame(ctx, writer, Frame{Type: FrameEvent, RunID: runID, Event: &ev})
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && writeErr == nil {
				writeErr = writeFrame(ctx, writer, Frame{Type: FrameError, RunID: runID, Error: err.Error()})
			}
		}
	}
	return writeErr
}

func writeFrame(ctx context.Context, writer wsWriter, f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return writer.Write(ctx, websocket.MessageText, payload)
}
