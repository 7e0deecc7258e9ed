// Package media bridges a duplex WebSocket audio stream to the survey
// machine: caller audio in, transcribed and submitted as a turn; the next
// prompt synthesized and streamed back out.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/agent"
)

// controlMessage is the JSON control frame format. Audio travels as binary
// frames between control messages.
// Client -> server types: "start", "segment_end", "bye".
// Server -> client types: "ready", "prompt", "retry_turn", "error".
type controlMessage struct {
	Type       string  `json:"type"`
	SessionID  string  `json:"session_id,omitempty"`
	Prompt     string  `json:"prompt,omitempty"`
	Transcript string  `json:"transcript,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Done       bool    `json:"done,omitempty"`
	Reprompt   bool    `json:"reprompt,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Transcriber converts a recorded audio segment to text with a confidence.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, float64, error)
}

// Synthesizer renders a prompt to audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Conductor is the slice of the survey machine the gateway drives.
type Conductor interface {
	Get(sessionID string) (agent.Snapshot, error)
	SubmitResponse(ctx context.Context, sessionID, raw string, transcriptConfidence float64) (agent.Reply, error)
	Fail(ctx context.Context, sessionID string, cause error) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Allow any origin for demo use; restrict in production
		return true
	},
}

const (
	writeTimeout  = 10 * time.Second
	maxSegmentLen = 10 << 20 // 10 MiB of buffered caller audio per segment
)

// Gateway serves the audio WebSocket for live survey calls.
type Gateway struct {
	machine Conductor
	stt     Transcriber
	tts     Synthesizer
}

func NewGateway(machine Conductor, stt Transcriber, tts Synthesizer) *Gateway {
	return &Gateway{machine: machine, stt: stt, tts: tts}
}

// ServeWS upgrades the request and runs the call loop for one session. The
// session must already exist; the client names it with ?session_id= or a
// first "start" control frame.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("media: ws upgrade error: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		m, _, rerr := g.readControl(conn)
		if rerr != nil {
			return
		}
		if m.Type != "start" || m.SessionID == "" {
			g.writeControl(conn, controlMessage{Type: "error", Error: "expected start frame with session_id"})
			return
		}
		sessionID = m.SessionID
	}

	snap, err := g.machine.Get(sessionID)
	if err != nil {
		g.writeControl(conn, controlMessage{Type: "error", Error: "unknown session"})
		return
	}
	if snap.Status.Terminal() {
		g.writeControl(conn, controlMessage{Type: "error", Error: "session already finished"})
		return
	}

	g.writeControl(conn, controlMessage{Type: "ready", SessionID: sessionID})
	log.Printf("media: call loop started session=%s", sessionID)
	g.loop(r.Context(), conn, sessionID)
}

// loop reads audio segments until the caller hangs up, the survey finishes,
// or the connection drops.
func (g *Gateway) loop(ctx context.Context, conn *websocket.Conn, sessionID string) {
	var segment bytes.Buffer
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("media: ws read error session=%s: %v", sessionID, err)
			}
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			if segment.Len()+len(data) > maxSegmentLen {
				g.writeControl(conn, controlMessage{Type: "error", Error: "audio segment too large"})
				segment.Reset()
				continue
			}
			segment.Write(data)
		case websocket.TextMessage:
			var m controlMessage
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}
			switch m.Type {
			case "bye":
				return
			case "segment_end":
				audio := append([]byte(nil), segment.Bytes()...)
				segment.Reset()
				done, err := g.handleSegment(ctx, conn, sessionID, audio)
				if err != nil {
					log.Printf("media: turn error session=%s: %v", sessionID, err)
				}
				if done {
					return
				}
			}
		}
	}
}

// handleSegment runs one full turn: transcribe, submit, synthesize, send.
// It reports done=true when the survey completed or the session is no
// longer usable.
func (g *Gateway) handleSegment(ctx context.Context, conn *websocket.Conn, sessionID string, audio []byte) (bool, error) {
	if len(audio) == 0 {
		g.writeControl(conn, controlMessage{Type: "error", Error: "empty audio segment"})
		return false, nil
	}

	text, conf, err := g.stt.Transcribe(ctx, audio)
	if err != nil {
		// No turn was committed; the session cannot proceed without a transcript.
		_ = g.machine.Fail(ctx, sessionID, fmt.Errorf("transcription: %w", err))
		g.writeControl(conn, controlMessage{Type: "error", Error: "transcription failed"})
		return true, err
	}

	reply, err := g.machine.SubmitResponse(ctx, sessionID, text, conf)
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrSessionExpired):
			g.writeControl(conn, controlMessage{Type: "error", Error: "session expired"})
			return true, err
		case errors.Is(err, agent.ErrInvalidState), errors.Is(err, agent.ErrNotFound):
			g.writeControl(conn, controlMessage{Type: "error", Error: "session not accepting responses"})
			return true, err
		}
		g.writeControl(conn, controlMessage{Type: "error", Error: "turn failed"})
		return true, err
	}

	msg := controlMessage{
		Type:       "prompt",
		SessionID:  sessionID,
		Prompt:     reply.Prompt,
		Transcript: text,
		Done:       reply.Done,
		Reprompt:   reply.Reprompt,
	}
	if reply.Turn != nil {
		msg.Confidence = reply.Turn.Confidence
	}
	g.writeControl(conn, msg)

	speech, err := g.tts.Synthesize(ctx, reply.Prompt)
	if err != nil {
		// The turn is already committed; the caller just re-hears the prompt
		// via text. Recoverable, so the session stays alive.
		log.Printf("media: tts failed session=%s: %v", sessionID, err)
		g.writeControl(conn, controlMessage{Type: "retry_turn", SessionID: sessionID, Prompt: reply.Prompt})
		return reply.Done, nil
	}
	g.writeBinary(conn, speech)
	return reply.Done, nil
}

func (g *Gateway) readControl(conn *websocket.Conn) (controlMessage, int, error) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return controlMessage{}, 0, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m controlMessage
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		return m, mt, nil
	}
}

func (g *Gateway) writeControl(conn *websocket.Conn, m controlMessage) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(m); err != nil {
		log.Printf("media: ws write error: %v", err)
	}
}

func (g *Gateway) writeBinary(conn *websocket.Conn, data []byte) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		log.Printf("media: ws write error: %v", err)
	}
}
