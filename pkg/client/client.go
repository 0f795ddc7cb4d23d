// Package client is a Go client for the realtime session server. It
// keeps the message ledger a UI needs: optimistic local sends, server
// echoes folded back in place, duplicate redeliveries suppressed.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codehive-dev/codehive/pkg/identity"
	"github.com/codehive-dev/codehive/pkg/ledger"
	"github.com/codehive-dev/codehive/pkg/protocol"
	"github.com/codehive-dev/codehive/pkg/workspace"
)

// Client is one live session against the server. Safe for concurrent
// use; a single internal goroutine owns the read side.
type Client struct {
	conn   *websocket.Conn
	ledger *ledger.Ledger

	self      identity.Identity
	sessionID string
	projectID string

	mu       sync.Mutex
	fileTree workspace.Snapshot
	ready    []protocol.ServerReady
	readErr  error

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects, runs the admission handshake, and starts the read
// loop. baseURL is the server's http(s) address; the credential rides
// the token query parameter.
func Dial(ctx context.Context, baseURL, projectID, credential string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("projectId", projectID)
	q.Set("token", credential)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	}

	var ev protocol.Event
	if err := conn.ReadJSON(&ev); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if ev.Type != protocol.EventAdmitted {
		conn.Close()
		return nil, fmt.Errorf("handshake: unexpected event %q", ev.Type)
	}
	var admitted protocol.Admitted
	if err := json.Unmarshal(ev.Payload, &admitted); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: decode admitted: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:      conn,
		ledger:    ledger.New(),
		self:      admitted.Self,
		sessionID: admitted.SessionID,
		projectID: admitted.ProjectID,
		fileTree:  admitted.FileTree.Clone(),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Self returns the identity the server admitted this session as.
func (c *Client) Self() identity.Identity {
	return c.self
}

// SessionID returns the server-assigned session id.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Send relays a chat message. The message is appended to the local
// ledger immediately; the server echo confirms it in place rather than
// duplicating it.
func (c *Client) Send(text string) error {
	token := c.ledger.AppendLocal(c.self.ID, c.self.Name, text)
	return c.writeChat(protocol.ChatMessage{
		Text:             text,
		CorrelationToken: token,
	})
}

// SendAssistantPayload submits a raw assistant payload on behalf of the
// assistant sentinel. No optimistic entry is kept; the assistant
// message comes back to other members only.
func (c *Client) SendAssistantPayload(raw string) error {
	return c.writeChat(protocol.ChatMessage{
		Sender: identity.AssistantID,
		Text:   raw,
	})
}

func (c *Client) writeChat(chat protocol.ChatMessage) error {
	ev, err := protocol.NewEvent(protocol.EventProjectMessage, chat)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(ev)
}

// Messages returns the ledger in display order.
func (c *Client) Messages() []ledger.Entry {
	return c.ledger.Entries()
}

// FileTree returns the last synced workspace snapshot.
func (c *Client) FileTree() workspace.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fileTree.Clone()
}

// ServerReady returns the server-ready notifications received so far.
func (c *Client) ServerReady() []protocol.ServerReady {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.ServerReady(nil), c.ready...)
}

// Done is closed when the read loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the read loop, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

// Close tears the connection down.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var ev protocol.Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			c.mu.Lock()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.readErr = err
			}
			c.mu.Unlock()
			_ = c.conn.Close()
			return
		}
		c.handle(ev)
	}
}

func (c *Client) handle(ev protocol.Event) {
	switch ev.Type {
	case protocol.EventProjectMessage:
		var msg protocol.Message
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			return
		}
		c.ledger.Apply(ledger.Confirmed{
			ID:               strconv.FormatInt(msg.ID, 10),
			CorrelationToken: msg.CorrelationToken,
			SenderID:         msg.Sender.ID,
			SenderName:       msg.Sender.Name,
			Text:             msg.Text,
			CreatedAt:        msg.CreatedAt,
		})
	case protocol.EventWorkspaceSync:
		var sync protocol.WorkspaceSync
		if err := json.Unmarshal(ev.Payload, &sync); err != nil {
			return
		}
		c.mu.Lock()
		c.fileTree = sync.FileTree.Clone()
		c.mu.Unlock()
	case protocol.EventServerReady:
		var ready protocol.ServerReady
		if err := json.Unmarshal(ev.Payload, &ready); err != nil {
			return
		}
		c.mu.Lock()
		c.ready = append(c.ready, ready)
		c.mu.Unlock()
	}
}
