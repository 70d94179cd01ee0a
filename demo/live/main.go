// Package main provides a minimal CLI demo for live calls.
//
// Usage:
//
//	go run ./demo/live
//
// Environment variables:
//
//	CALLKIT_BASE_URL - Required, base address of the call peer
//	CALLKIT_API_KEY  - Optional bearer token
//
// Controls:
//
//	/t <text>   - Send text message (interrupts agent speech)
//	/end        - End the call
//	q           - Quit the demo
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	callkit "github.com/voxline-ai/callkit/sdk"
)

const micSampleRate = 16000

func main() {
	_ = godotenv.Load()

	if os.Getenv("CALLKIT_BASE_URL") == "" {
		log.Fatal("CALLKIT_BASE_URL required")
	}

	fmt.Println("Voxline live call demo")
	fmt.Println("  /t <text>   send text")
	fmt.Println("  /end        end the call")
	fmt.Println("  q           quit")
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	client := callkit.NewClient(callkit.WithLogger(logger))

	session, err := client.Calls.Start(ctx)
	if err != nil {
		log.Fatalf("Failed to start call: %v", err)
	}
	defer session.End(context.Background())

	fmt.Printf("Call started: %s\n", session.ID())

	session.OnConnectionState(func(state callkit.ConnState) {
		fmt.Printf("[CONN] %s\n", state)
	})
	session.OnMessage(func(msg callkit.Message) {
		switch msg.Kind {
		case callkit.MessageAgentText:
			fmt.Printf("[AGENT] %s\n", msg.Content)
		case callkit.MessageSystem:
			fmt.Printf("[EVENT] %s %s\n", msg.Event.Type, string(msg.Event.Data))
		}
	})

	// Stream microphone audio to the call. Speech onset interrupts any agent
	// audio in progress before the chunk goes out.
	mic, micCleanup, err := newMicReader(micSampleRate)
	if err != nil {
		logger.Warn("microphone unavailable, text-only mode", "error", err)
	} else {
		defer micCleanup()
		go func() {
			buf := make([]byte, micSampleRate*2/50) // 20ms chunks
			for ctx.Err() == nil {
				n := mic.Read(buf)
				if n == 0 {
					continue
				}
				chunk := buf[:n]
				if speechOnset(chunk) {
					session.StopPlayback()
				}
				if err := session.SendAudioChunk(chunk, "audio/pcm"); err != nil {
					if callkit.IsNotConnected(err) {
						continue
					}
					logger.Warn("send audio failed", "error", err)
				}
			}
		}()
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.ToLower(input) == "q" {
			break
		}

		if input == "/end" {
			if err := session.End(ctx); err != nil {
				fmt.Printf("[ERROR] Failed to end call: %v\n", err)
			}
			break
		}

		if strings.HasPrefix(input, "/t ") {
			text := strings.TrimPrefix(input, "/t ")
			if err := session.SendText(text); err != nil {
				fmt.Printf("[ERROR] Failed to send text: %v\n", err)
			} else {
				fmt.Printf("[SENT] %s\n", text)
			}
			continue
		}

		fmt.Println("[INFO] Commands: /t <text>, /end, q")
	}
}
