package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/omnihq/beacon-client/internal/config"
	"github.com/omnihq/beacon-client/internal/transport"
	"github.com/omnihq/beacon-client/pkg/logger"
)

// ChatCommand runs an interactive chat session against the connected
// gateway. One message is in flight at a time: the prompt returns only after
// the streamed reply completes or fails.
func ChatCommand(cfg *config.Config, gatewayURL, persona, model string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	if err := a.connect(ctx, gatewayURL); err != nil {
		return err
	}

	sessionID := uuid.NewString()
	a.client.SetSessionID(sessionID)

	channel := transport.NewChatChannel(a.client, transport.ChatOptions{})
	defer channel.Close()

	channel.SetPersona(persona)
	channel.SetModelOverride(model)
	channel.SetToolHandler(func(ev transport.ToolEvent) {
		if ev.Done {
			fmt.Printf("\n[tool %s done, ok=%v]\n", ev.Label, ev.Success)
		} else {
			fmt.Printf("\n[tool %s: %s]\n", ev.Label, ev.Invocation)
		}
	})

	if err := channel.Open(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to open chat: %w", err)
	}

	fmt.Printf("Chatting with %s (session %s). Type /quit to exit.\n", a.disc.Current().Gateway.Name, sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		done := make(chan struct{})
		_, err := channel.Send(line, transport.Callbacks{
			OnToken: func(token string) { fmt.Print(token) },
			OnComplete: func(messageID string) {
				fmt.Println()
				close(done)
			},
			OnError: func(err error) {
				logger.Errorf("chat failed: %v", err)
				close(done)
			},
		})
		if err != nil {
			logger.Errorf("failed to send: %v", err)
			continue
		}
		<-done
	}
}
