package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/Zereker/stampline"
)

func main() {
	cfg := stampline.DefaultConfig()
	addr := flag.String("addr", cfg.Addr(), "Server address")
	clientNumber := flag.Int("client-number", 0, "Client number starting from 1 (required)")
	message := flag.String("message", "Hello from client!", "Message to send to the server")
	flag.Parse()

	if *clientNumber == 0 {
		fmt.Fprintln(os.Stderr, "-client-number is required")
		flag.Usage()
		os.Exit(2)
	}

	stampline.NewClient(*addr).SendRequest(context.Background(), *clientNumber, *message)
}
