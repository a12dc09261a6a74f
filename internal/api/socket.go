package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/onyria/onyria/internal/observe"
	"github.com/onyria/onyria/internal/pipeline"
	"github.com/onyria/onyria/internal/transcribe"
)

const (
	socketReadTimeout  = 2 * time.Minute
	socketWriteTimeout = 10 * time.Second
)

// socketText is the optional JSON form of a text message.
type socketText struct {
	Text     string `json:"text"`
	Filename string `json:"filename"`
}

// dreamSocket accepts one submission per connection. A binary message is a
// recording. A text message is the dream itself, either raw or as
// {"text": ...}. Every pipeline event is written back as a JSON object.
func (s *Server) dreamSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("api: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.opts.MaxUploadBytes)

	ctx := r.Context()
	log := observe.Logger(ctx)

	readCtx, cancel := context.WithTimeout(ctx, socketReadTimeout)
	typ, data, err := conn.Read(readCtx)
	cancel()
	if err != nil {
		log.Info("api: websocket closed before submission", "err", err)
		return
	}

	in := pipeline.Input{UserID: userID(r)}
	switch typ {
	case websocket.MessageBinary:
		in.Audio = &transcribe.Audio{Data: data, Filename: r.URL.Query().Get("filename")}
	default:
		var msg socketText
		if err := json.Unmarshal(data, &msg); err == nil {
			in.Text = msg.Text
		} else {
			in.Text = strings.TrimSpace(string(data))
		}
	}
	if in.Empty() {
		ev := pipeline.Event{Stage: pipeline.StageError, Data: map[string]string{"code": codeNoInput, "message": pipeline.ErrorMessage}}
		_ = wsjson.Write(ctx, conn, ev)
		conn.Close(websocket.StatusPolicyViolation, codeNoInput)
		return
	}

	s.metrics.ActiveStreams.Add(ctx, 1)
	defer s.metrics.ActiveStreams.Add(ctx, -1)

	gone := false
	emit := func(ev pipeline.Event) {
		if gone {
			return
		}
		wctx, cancel := context.WithTimeout(ctx, socketWriteTimeout)
		defer cancel()
		if err := wsjson.Write(wctx, conn, ev); err != nil {
			gone = true
			if !errors.Is(err, context.Canceled) {
				log.Info("api: websocket client gone", "stage", ev.Stage, "err", err)
			}
		}
	}
	_, err = s.deps.Pipeline.Stream(context.WithoutCancel(ctx), in, emit)
	if err != nil {
		conn.Close(websocket.StatusInternalError, codeAnalysisFailed)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "complete")
}
