package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/olekukonko/tablewriter"

	"tarot-live/auth"
	"tarot-live/domain"
)

// frame mirrors the wire format of the coordinator. The tester keeps its own
// copy so it exercises the server like an external client would.
type frame struct {
	Type          string          `json:"type"`
	SessionID     string          `json:"session_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	MessageID     string          `json:"message_id,omitempty"`
	Value         string          `json:"value,omitempty"`
	Code          string          `json:"code,omitempty"`
	Message       string          `json:"message,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

type client struct {
	name string
	conn *websocket.Conn
}

type step struct {
	name     string
	duration time.Duration
	detail   string
}

var results []step

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "Coordinator websocket URL")
	secret := flag.String("secret", "", "JWT secret shared with the coordinator")
	session := flag.String("session", "", "Chat session to exercise")
	flag.Parse()

	if *secret == "" || *session == "" {
		log.Fatal("Both -secret and -session are required")
	}

	// 1. Connect two participants of the session
	seeker := connect(*addr, *secret, domain.UserIdentity{
		UserID: "seeker-1", DisplayName: "Luna", Active: true, Role: "client",
	})
	defer seeker.conn.Close()

	reader := connect(*addr, *secret, domain.UserIdentity{
		UserID: "reader-1", DisplayName: "Madame Vesna", Active: true, Role: "advisor",
	})
	defer reader.conn.Close()

	// 2. Both join the room
	join(seeker, *session)
	join(reader, *session)
	expect(seeker, "peer_joined") // reader's arrival reaches the seeker

	// 3. Typing indicator from the reader reaches the seeker
	run("typing relay", func() string {
		send(reader, frame{Type: "typing_start", SessionID: *session})
		f := expect(seeker, "peer_typing")
		return string(f.Data)
	})

	// 4. Message from the seeker reaches the reader
	var messageID string
	run("message relay", func() string {
		correlationID := uuid.NewString()
		payload, _ := json.Marshal(map[string]string{"text": "What do the cards say about my career?"})
		send(seeker, frame{Type: "send_message", SessionID: *session, Payload: payload, CorrelationID: correlationID})

		delivered := expect(seeker, "message_delivered")
		incoming := expect(reader, "new_message")

		var ack struct {
			DeliveryID string `json:"delivery_id"`
		}
		if err := json.Unmarshal(delivered.Data, &ack); err != nil {
			log.Fatalf("Malformed delivery ack: %v", err)
		}
		messageID = ack.DeliveryID
		return fmt.Sprintf("delivery_id=%s payload=%s", messageID, string(incoming.Data))
	})

	// 5. Reaction from the reader fans out to both participants
	run("reaction relay", func() string {
		send(reader, frame{Type: "react", SessionID: *session, MessageID: messageID, Value: "🔮"})
		expect(reader, "reaction_updated")
		f := expect(seeker, "reaction_updated")
		return string(f.Data)
	})

	// 6. Disconnect announcement
	run("departure notice", func() string {
		_ = reader.conn.Close()
		f := expect(seeker, "peer_left")
		return string(f.Data)
	})

	render()
}

func connect(addr, secret string, identity domain.UserIdentity) *client {
	header := fmt.Sprintf("  ====== connecting %s ======", identity.DisplayName)
	fmt.Println(color.New(color.BgBlack, color.FgGreen).Render(header))

	token, err := auth.GenerateToken(secret, identity, time.Hour)
	if err != nil {
		log.Fatalf("Token generation failed: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(addr, http.Header{
		"Authorization": []string{"Bearer " + token},
	})
	if err != nil {
		log.Fatalf("Connection failed for %s: %v", identity.UserID, err)
	}

	c := &client{name: identity.DisplayName, conn: conn}
	expect(c, "connected")
	return c
}

func join(c *client, session string) {
	send(c, frame{Type: "join_room", SessionID: session})
	expect(c, "room_joined")
}

func send(c *client, f frame) {
	if err := c.conn.WriteJSON(f); err != nil {
		log.Fatalf("%s: write failed: %v", c.name, err)
	}
}

// expect reads frames until the wanted type arrives, ignoring unrelated
// traffic such as presence of the other tester connection.
func expect(c *client, frameType string) frame {
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			log.Fatalf("%s: expected %q, read failed: %v", c.name, frameType, err)
		}
		if f.Type == "error" {
			log.Fatalf("%s: expected %q, got error %s (%s)", c.name, frameType, f.Code, f.Message)
		}
		if f.Type == frameType {
			return f
		}
	}
}

func run(name string, fn func() string) {
	fmt.Println(color.New(color.BgBlack, color.FgGreen).Render("  ====== " + name + " ======"))
	start := time.Now()
	detail := fn()
	results = append(results, step{name: name, duration: time.Since(start), detail: detail})
}

func render() {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Step", "Duration", "Detail"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, s := range results {
		table.Append([]string{s.name, s.duration.Round(time.Millisecond).String(), s.detail})
	}
	table.Render()

	fmt.Println(color.New(color.FgGreen).Render("All steps passed"))
}
