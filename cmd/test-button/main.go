// Command test-button is a manual test for the keyboard button source.
// Run it, then press and release the key to see edges.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-button [--key space]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/lbs-peripheral/internal/button"
)

func main() {
	key := flag.String("key", "space", "key acting as the user button")
	flag.Parse()

	fmt.Printf("Listening for %q...\n", *key)
	fmt.Println("Press Ctrl+C to exit.")

	src := button.NewHookSource(*key)
	err := src.Start(func(state, changed uint32) {
		pressed, hasChanged := button.Decode(state, changed, button.User)
		if !hasChanged {
			return
		}
		if pressed {
			fmt.Println(">>> PRESSED")
		} else {
			fmt.Println("<<< RELEASED")
		}
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nShutting down...")
	// Exit directly to avoid gohook's C cleanup crash.
	os.Exit(0)
}
