package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/catherinesyeh/cs262-chat/pkg/client"
	"github.com/catherinesyeh/cs262-chat/pkg/protocol"
)

func main() {
	addr := flag.String("addr", "localhost:5252", "server address")
	useJSON := flag.Bool("json", false, "speak the JSON codec instead of the binary one")
	flag.Parse()

	var codec protocol.Codec = protocol.WireCodec{}
	if *useJSON {
		codec = protocol.JSONCodec{}
	}

	c, err := client.Dial(*addr, codec)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", *addr, err)
	}
	defer c.Close()

	pushCh := make(chan protocol.DeliveredMessage, 16)
	c.OnPush(func(msg protocol.DeliveredMessage) {
		pushCh <- msg
	})

	p := tea.NewProgram(newModel(c, pushCh), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
