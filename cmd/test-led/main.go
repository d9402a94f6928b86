// Command test-led is a manual test for the LED backends.
// It blinks one LED a few times.
//
// Usage:
//
//	go run ./cmd/test-led [--backend log|keyboard] [--key capslock] [--count 5]
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/chaz8081/lbs-peripheral/internal/led"
)

func main() {
	backend := flag.String("backend", "log", "LED backend: log or keyboard")
	key := flag.String("key", "capslock", "indicator key for the keyboard backend")
	count := flag.Int("count", 5, "number of blinks")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))

	var bank led.Bank
	switch *backend {
	case "keyboard":
		bank = led.NewKeyboardBank(map[led.ID]string{led.User: *key})
	default:
		bank = led.NewLogBank()
	}

	if err := bank.Init(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	for i := 0; i < *count; i++ {
		for _, on := range []bool{true, false} {
			if err := bank.Set(led.User, on); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			time.Sleep(500 * time.Millisecond)
		}
	}
	fmt.Println("Done.")
}
