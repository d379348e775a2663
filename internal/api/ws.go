package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/okulov/ragserver/internal/rag"
)

// WSChatHandler serves chat over a WebSocket: the client sends one request
// frame per turn and receives one response frame back on the same
// connection, keeping the session id across turns.
type WSChatHandler struct {
	svc           ChatService
	allowedOrigin string
	isDev         bool
}

// NewWSChatHandler creates a WebSocket chat handler.
func NewWSChatHandler(svc ChatService, allowedOrigin string, isDev bool) *WSChatHandler {
	return &WSChatHandler{svc: svc, allowedOrigin: allowedOrigin, isDev: isDev}
}

// wsFrame is the server-to-client message structure.
type wsFrame struct {
	Type     string            `json:"type"`
	Error    string            `json:"error,omitempty"`
	Response *rag.ChatResponse `json:"data,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WSChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if h.isDev {
		opts.InsecureSkipVerify = true
	} else if h.allowedOrigin != "" {
		origin := strings.TrimPrefix(strings.TrimPrefix(h.allowedOrigin, "https://"), "http://")
		opts.OriginPatterns = []string{origin}
	}

	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Warn("WebSocket accept failed", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("WebSocket close", "error", closeErr)
		}
	}()

	slog.Info("WebSocket chat connected", "ip", r.RemoteAddr)
	h.chatLoop(r.Context(), ws)
}

func (h *WSChatHandler) chatLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				slog.Debug("WebSocket read error", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var req chatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.writeJSON(ctx, ws, wsFrame{Type: "error", Error: "invalid request frame"})
			continue
		}
		if req.Message == "" || req.ClientID == "" {
			h.writeJSON(ctx, ws, wsFrame{Type: "error", Error: "message and client_id are required"})
			continue
		}

		useMemory := true
		if req.UseMemory != nil {
			useMemory = *req.UseMemory
		}

		resp, err := h.svc.Chat(ctx, rag.ChatRequest{
			Message:   req.Message,
			ClientID:  req.ClientID,
			SessionID: req.SessionID,
			UseMemory: useMemory,
		})
		if err != nil {
			slog.Error("WebSocket chat failed", "client_id", req.ClientID, "error", err)
			h.writeJSON(ctx, ws, wsFrame{Type: "error", Error: err.Error()})
			continue
		}
		h.writeJSON(ctx, ws, wsFrame{Type: "response", Response: resp})
	}
}

func (h *WSChatHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v wsFrame) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to encode frame", "error", err)
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write error", "error", err)
	}
}
