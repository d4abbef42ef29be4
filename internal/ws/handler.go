package ws

import (
	"context"
	"net/http"
	"strings"

	"github.com/chatflow/internal/logger"
	"github.com/chatflow/internal/model"
	"github.com/gorilla/websocket"
)

var relayTables = map[string]bool{
	model.TableMessages: true,
	model.TableProfiles: true,
	model.TableTyping:   true,
}

type Handler struct {
	hub            *Hub
	allowedOrigins string
}

// NewHandler создаёт обработчик WebSocket. allowedOrigins — как в CORS (через запятую или "*").
func NewHandler(hub *Hub, allowedOrigins string) *Handler {
	return &Handler{hub: hub, allowedOrigins: strings.TrimSpace(allowedOrigins)}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// parseTables читает ?table=a&table=b (или table=a,b). Без параметра — все таблицы.
func parseTables(r *http.Request) ([]string, bool) {
	var tables []string
	seen := make(map[string]bool)
	for _, v := range r.URL.Query()["table"] {
		for _, t := range strings.Split(v, ",") {
			t = strings.TrimSpace(t)
			if t == "" || seen[t] {
				continue
			}
			if !relayTables[t] {
				return nil, false
			}
			seen[t] = true
			tables = append(tables, t)
		}
	}
	if len(tables) == 0 {
		tables = []string{model.TableMessages, model.TableProfiles, model.TableTyping}
	}
	return tables, true
}

// ServeWS: GET /ws?table=messages&table=typing_indicators.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	tables, ok := parseTables(r)
	if !ok {
		http.Error(w, "unknown table", http.StatusBadRequest)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(h.hub, conn, tables)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
