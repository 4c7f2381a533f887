package websocket

import (
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/jangxam/api/internal/model"
)

// Client represents a WebSocket client
type Client struct {
	// JobID is owned by the hub loop; it changes when the job is re-keyed.
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	// Placeholder ids already re-keyed, so late subscribers land on the
	// remote id
	aliases map[string]string

	register   chan *Client
	unregister chan *Client
	rekey      chan rekeyRequest
	broadcast  chan *BroadcastMessage

	log zerolog.Logger
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string
	Message []byte
	// Final marks the last message of a job
	Final bool
}

type rekeyRequest struct {
	from string
	to   string
}

// NewHub creates a new Hub
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		aliases:    make(map[string]string),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		rekey:      make(chan rekeyRequest),
		broadcast:  make(chan *BroadcastMessage, 256),
		log:        log.With().Str("component", "hub").Logger(),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			if target, ok := h.aliases[client.JobID]; ok {
				client.JobID = target
			}
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.log.Debug().Str("job_id", client.JobID).Msg("client registered")

		case client := <-h.unregister:
			if clients, ok := h.clients[client.JobID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.JobID)
					}
				}
			}
			h.log.Debug().Str("job_id", client.JobID).Msg("client unregistered")

		case req := <-h.rekey:
			h.aliases[req.from] = req.to
			moved := h.clients[req.from]
			if len(moved) == 0 {
				continue
			}
			if h.clients[req.to] == nil {
				h.clients[req.to] = make(map[*Client]bool)
			}
			for client := range moved {
				client.JobID = req.to
				h.clients[req.to][client] = true
			}
			delete(h.clients, req.from)
			h.log.Debug().Str("from", req.from).Str("to", req.to).Int("clients", len(moved)).Msg("subscribers re-keyed")

		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.JobID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.JobID)
				}
			}
			if msg.Final {
				for from, to := range h.aliases {
					if to == msg.JobID {
						delete(h.aliases, from)
					}
				}
			}
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Rekey moves the subscribers of a placeholder id to the remote id. It
// returns once the hub applied the change, so later broadcasts reach them.
func (h *Hub) Rekey(from, to string) {
	if from == to {
		return
	}
	h.rekey <- rekeyRequest{from: from, to: to}
}

// BroadcastSubmitted tells subscribers the job now has its remote id
func (h *Hub) BroadcastSubmitted(placeholderID string, job *model.Job) {
	h.send(job.ID, model.WSSubmittedMessage{
		Type:          model.WSMessageTypeSubmitted,
		JobID:         job.ID,
		PlaceholderID: placeholderID,
		Status:        job.Status,
	}, false)
}

// BroadcastProgress sends a status observation to all job subscribers
func (h *Hub) BroadcastProgress(jobID string, status model.JobStatus, poll int) {
	h.send(jobID, model.WSProgressMessage{
		Type:   model.WSMessageTypeProgress,
		JobID:  jobID,
		Status: status,
		Poll:   poll,
	}, false)
}

// BroadcastComplete sends a completion message to all job subscribers
func (h *Hub) BroadcastComplete(jobID string, result interface{}) {
	h.send(jobID, model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		JobID:  jobID,
		Result: result,
	}, true)
}

// BroadcastError sends an error message to all job subscribers
func (h *Hub) BroadcastError(jobID string, code, message string) {
	h.send(jobID, model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: jobID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	}, true)
}

func (h *Hub) send(jobID string, msg interface{}, final bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("failed to marshal message")
		return
	}

	h.broadcast <- &BroadcastMessage{
		JobID:   jobID,
		Message: data,
		Final:   final,
	}
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	client := &Client{
		JobID: jobID,
		Conn:  c,
		Send:  make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("job_id", jobID).Msg("websocket error")
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			select {
			case client.Send <- pong:
			default:
			}
		}
	}
}
