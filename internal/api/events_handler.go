package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"treemirror/internal/logging"
	"treemirror/internal/mirror"
	"treemirror/internal/workspace"
)

const (
	defaultStreamRate = 200
	maxReplay         = 1000
)

// EventsHandler streams tree changes of every root as JSON messages.
//
// Query parameters narrow the stream up front: root (id), kinds (comma
// separated) and replay (number of recent changes to send first). A client
// may send {"type":"subscribe","root":"...","kinds":[...]} at any time to
// replace the filter.
type EventsHandler struct {
	Workspace      *workspace.Workspace
	AuthToken      string
	AllowedOrigins []string
	Logger         *logging.Logger
	Rate           float64
}

type changePayload struct {
	Type   string `json:"type"`
	RootID string `json:"root_id,omitempty"`
	mirror.Change
}

type subscribeMessage struct {
	Type  string   `json:"type"`
	Root  string   `json:"root"`
	Kinds []string `json:"kinds"`
}

type changeFilter struct {
	root  string
	kinds map[mirror.ChangeKind]bool
}

func newChangeFilter(root string, kinds []string) *changeFilter {
	filter := &changeFilter{root: strings.TrimSpace(root)}
	for _, kind := range kinds {
		kind = strings.TrimSpace(kind)
		if kind == "" {
			continue
		}
		if filter.kinds == nil {
			filter.kinds = make(map[mirror.ChangeKind]bool)
		}
		filter.kinds[mirror.ChangeKind(kind)] = true
	}
	return filter
}

func (f *changeFilter) allows(rootID string, change mirror.Change) bool {
	if f.root != "" && f.root != rootID {
		return false
	}
	return f.kinds == nil || f.kinds[change.Kind]
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !validateToken(r, h.AuthToken) {
		writeWSError(w, r, nil, h.Logger, wsError{
			Status:    http.StatusUnauthorized,
			CloseCode: websocket.ClosePolicyViolation,
			Message:   "unauthorized",
		})
		return
	}
	if h.Workspace == nil {
		writeWSError(w, r, nil, h.Logger, wsError{
			Status:  http.StatusServiceUnavailable,
			Message: "change stream unavailable",
		})
		return
	}

	query := r.URL.Query()
	var filter atomic.Pointer[changeFilter]
	filter.Store(newChangeFilter(query.Get("root"), strings.Split(query.Get("kinds"), ",")))
	replay, _ := strconv.Atoi(query.Get("replay"))
	if replay > maxReplay {
		replay = maxReplay
	}

	// Replay and live stream are taken together so no change is sent twice.
	history, output, cancel := h.Workspace.Bus().SubscribeWithReplay(replay)
	defer cancel()

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		logWSError(h.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}

	streamRate := h.Rate
	if streamRate <= 0 {
		streamRate = defaultStreamRate
	}

	buildPayload := func(change mirror.Change) (any, bool) {
		rootID := ""
		if root, ok := h.Workspace.RootForPath(change.Root); ok {
			rootID = root.ID
		}
		if !filter.Load().allows(rootID, change) {
			return nil, false
		}
		return changePayload{Type: "change", RootID: rootID, Change: change}, true
	}

	serveWSStream(r, wsStreamConfig[mirror.Change]{
		Conn:         conn,
		Output:       output,
		BuildPayload: buildPayload,
		Limiter:      rate.NewLimiter(rate.Limit(streamRate), int(streamRate)*2),
		Logger:       h.Logger,
		PreWrite: func(conn *websocket.Conn) error {
			for _, change := range history {
				payload, ok := buildPayload(change)
				if !ok {
					continue
				}
				if err := conn.WriteJSON(payload); err != nil {
					return err
				}
			}
			return nil
		},
		OnMessage: func(data []byte) {
			var message subscribeMessage
			if err := json.Unmarshal(data, &message); err != nil || message.Type != "subscribe" {
				return
			}
			filter.Store(newChangeFilter(message.Root, message.Kinds))
		},
	})
}
