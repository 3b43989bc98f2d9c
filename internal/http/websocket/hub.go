package websocket

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hbomb79/anyvid/internal/metrics"
	"github.com/hbomb79/anyvid/pkg/logger"
)

const sendBufferSize = 128

var socketLogger = logger.Get("WebSocket")

type SocketHandler func(*SocketHub, *SocketMessage) error

// SocketHub is the struct responsible for managing
// the websocket upgrading, connecting, pushing and
// receiving of messages.
type SocketHub struct {
	handlers           map[string]SocketHandler
	upgrader           *websocket.Upgrader
	clients            []*socketClient
	registerCh         chan *socketClient
	deregisterCh       chan *socketClient
	sendCh             chan *SocketMessage
	receiveCh          chan *SocketMessage
	doneCh             chan struct{}
	connectionCallback func() map[string]interface{}
	running            atomic.Bool
}

// Returns a new SocketHub with the channels,
// maps and slices initialised to sane starting
// values
func New() *SocketHub {
	return &SocketHub{
		handlers: make(map[string]SocketHandler),
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:      make([]*socketClient, 0),
		sendCh:       make(chan *SocketMessage, sendBufferSize),
		receiveCh:    make(chan *SocketMessage),
		registerCh:   make(chan *socketClient),
		deregisterCh: make(chan *socketClient),
		doneCh:       make(chan struct{}),
	}
}

// WithConnectionCallback sets a callback that will be executed each time a new client
// connects to this socketHub. This allows the client to be furnished with a payload
// of the servers current state, without having to wait for an UPDATE packet from the
// server (which may never come if the content does not change).
func (hub *SocketHub) WithConnectionCallback(callback func() map[string]interface{}) {
	hub.connectionCallback = callback
}

// Binds a provided particular command to a particular socket handler. Must
// be called before the hub is started.
func (hub *SocketHub) BindCommand(command string, handler SocketHandler) *SocketHub {
	hub.handlers[command] = handler
	return hub
}

// Start begins the socket hub by listening on all related channels
// for incoming clients and messages. A hub can only be started once.
func (hub *SocketHub) Start(ctx context.Context) {
	if ctx.Err() != nil {
		socketLogger.Emit(logger.STOP, "Refusing to start socket hub as provided context is already cancelled\n")
		return
	} else if !hub.running.CompareAndSwap(false, true) {
		socketLogger.Emit(logger.WARNING, "Attempting to start socketHub when already running! Ignoring request.\n")
		return
	}
	socketLogger.Emit(logger.INFO, "Opening SocketHub!\n")

	defer hub.close()
	for {
		select {
		case message := <-hub.sendCh:
			// Send the message provided - either by broadcasting to all, or
			// sending to only the client with a UUID matching the message 'target'
			if message.Target == nil {
				hub.broadcastMessage(message)
				continue
			}

			if _, client := hub.findClient(*message.Target); client != nil {
				if err := client.SendMessage(message); err != nil {
					socketLogger.Emit(logger.ERROR, "Failed to send message to target {%v}: %v\n", message.Target, err.Error())
				}
			} else {
				socketLogger.Emit(logger.WARNING, "Attempted to send message to target {%v}, but no matching client was found.\n", message.Target)
			}
		case message := <-hub.receiveCh:
			go hub.handleMessage(message)
		case client := <-hub.registerCh:
			if idx, _ := hub.findClient(client.id); idx > -1 {
				socketLogger.Emit(logger.ERROR, "Attempted to register client that is already registered (duplicate uuid)! Illegal!\n")
				client.Close()
				continue
			}

			hub.clients = append(hub.clients, client)
			metrics.SocketClients.Inc()
			socketLogger.Emit(logger.NEW, "Registered new client {%v}\n", client.id)
		case client := <-hub.deregisterCh:
			if idx, _ := hub.findClient(client.id); idx != -1 {
				hub.clients = append(hub.clients[:idx], hub.clients[idx+1:]...)
				metrics.SocketClients.Dec()
				socketLogger.Emit(logger.REMOVE, "Deregistered client {%v}\n", client.id)
				continue
			}

			socketLogger.Emit(logger.WARNING, "Attempted to deregister unknown client {%v}\n", client.id)
		case <-ctx.Done():
			socketLogger.Emit(logger.REMOVE, "Shutting down socket hub! Closing all clients.\n")
			return
		}
	}
}

// Send accepts a socket message and will emit this message on
// the send channel - message is ignored if hub is not running (see Start())
// A message provided that has a Target will only be sent to the client with
// a matching ID
func (hub *SocketHub) Send(message *SocketMessage) {
	if !hub.running.Load() {
		socketLogger.Emit(logger.WARNING, "Attempted to send message via socket hub, however the hub is offline. Ignoring message.\n")
		return
	}

	select {
	case hub.sendCh <- message:
	case <-hub.doneCh:
	}
}

// Upgrades a given HTTP request to a websocket and adds the new clients to the hub.
// This method blocks until the client disconnects.
func (hub *SocketHub) UpgradeToSocket(w http.ResponseWriter, r *http.Request) {
	if !hub.running.Load() {
		socketLogger.Emit(logger.ERROR, "Failed to upgrade incoming HTTP request to a websocket: SocketHub has not been started!\n")
		http.Error(w, "activity socket is unavailable", http.StatusServiceUnavailable)
		return
	}

	// Try generate UUID first - if we do this later and it fails... we've already
	// upgraded the connection to a websocket.
	id, err := uuid.NewRandom()
	if err != nil {
		socketLogger.Emit(logger.ERROR, "Failed to generate UUID for new connection - aborting!\n")
		http.Error(w, "failed to allocate client", http.StatusInternalServerError)
		return
	}

	sock, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		socketLogger.Emit(logger.ERROR, "Failed to upgrade incoming HTTP request to a websocket: %v\n", err.Error())
		return
	}

	client := &socketClient{id: id, socket: sock}
	select {
	case hub.registerCh <- client:
	case <-hub.doneCh:
		client.Close()
		return
	}

	// Ensure the client is deregistered once it's read loop closes
	// If client.Read finishes, it's either because the client disconnected
	// or an error occurred - either way, we need to deregister it.
	defer func() {
		select {
		case hub.deregisterCh <- client:
		case <-hub.doneCh:
		}
		client.Close()
	}()

	// Send welcome message to this client with a composed
	// map of new-client properties, which the client can use
	// as its initial state
	body := make(map[string]interface{})
	if hub.connectionCallback != nil {
		for k, v := range hub.connectionCallback() {
			body[k] = v
		}
	}
	body["client"] = id

	hub.Send(&SocketMessage{
		Title:  "CONNECTION_ESTABLISHED",
		Body:   body,
		Target: &id,
		Type:   Welcome,
	})

	if err := client.Read(hub.receiveCh, hub.doneCh); err != nil {
		socketLogger.Emit(logger.DEBUG, "Client {%v} closed: %v\n", client.id, err.Error())
	}
}

// Closes the sockethub by closing all connected clients and sockets
func (hub *SocketHub) close() {
	close(hub.doneCh)
	for _, client := range hub.clients {
		client.Close()
	}

	metrics.SocketClients.Sub(float64(len(hub.clients)))
	hub.clients = nil
	hub.running.Store(false)
	socketLogger.Emit(logger.STOP, "Socket hub is now closed!\n")
}

// handleMessage is an internal method that accepts a message
// and will forward the command to the bound handler if one
// exists. If none exists, the sender receives an error response.
func (hub *SocketHub) handleMessage(command *SocketMessage) {
	if command.Type != Command {
		socketLogger.Emit(logger.WARNING, "SocketHub received a message from client {%v} of type {%v} - this type is not allowed, only commands can be sent to the server!\n", command.Origin, command.Type)
		return
	}

	replyWithError := func(err string) {
		hub.Send(&SocketMessage{
			Title:  "COMMAND_FAILURE",
			Id:     command.Id,
			Target: command.Origin,
			Body:   map[string]interface{}{"command": command.Title, "error": err},
			Type:   ErrorResponse,
		})
	}

	handler, ok := hub.handlers[command.Title]
	if !ok {
		socketLogger.Emit(logger.WARNING, "No handler found for command '%v'\n", command.Title)
		replyWithError("Unknown command")
		return
	}

	if err := handler(hub, command); err != nil {
		socketLogger.Emit(logger.ERROR, "Handler for command '%v' returned error - %v\n", command.Title, err.Error())
		replyWithError(err.Error())
		return
	}

	socketLogger.Emit(logger.SUCCESS, "Handler for command '%v' executed successfully\n", command.Title)
}

// findClient returns a socketClient with the matching uuid if
// one can be found - if not, nil is returned. Additionally, the index
// of the client inside of the client list is returned as well.
func (hub *SocketHub) findClient(id uuid.UUID) (int, *socketClient) {
	for idx, client := range hub.clients {
		if client.id == id {
			return idx, client
		}
	}

	return -1, nil
}

// broadcastMessage sends the provided message to every connected
// client. A client which fails to receive the message is closed, which
// causes it to be deregistered once its read loop exits.
func (hub *SocketHub) broadcastMessage(message *SocketMessage) {
	for _, client := range hub.clients {
		if err := client.SendMessage(message); err != nil {
			socketLogger.Emit(logger.WARNING, "Failed to broadcast to client {%v}, closing: %v\n", client.id, err)
			client.Close()
		}
	}
}
