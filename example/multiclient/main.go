package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Zereker/stampline"
)

func main() {
	addr := flag.String("addr", stampline.DefaultConfig().Addr(), "Server address")
	numClients := flag.Int("num-clients", 5, "Number of concurrent clients")
	stagger := flag.Duration("stagger", 50*time.Millisecond, "Delay between client starts")
	flag.Parse()

	client := stampline.NewClient(*addr)

	var group errgroup.Group
	for i := 1; i <= *numClients; i++ {
		group.Go(func() error {
			client.SendRequest(context.Background(), i, fmt.Sprintf("Hello from client %d!", i))
			return nil
		})
		// readable output
		time.Sleep(*stagger)
	}
	_ = group.Wait()
}
