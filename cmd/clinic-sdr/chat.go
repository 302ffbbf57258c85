package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/clinic-sdr/sdr/dialogue"
	"github.com/spf13/cobra"
)

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := stderrLogger(cfg, true)

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.start(ctx); err != nil {
		return err
	}
	return chatLoop(ctx, a.engine, conversationIDFlag, os.Stdin, os.Stdout)
}

// chatLoop reads one message per line until EOF or "exit".
func chatLoop(ctx context.Context, engine *dialogue.Engine, conversationID string, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "clinic-sdr chat (type 'exit' to quit)")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		resp := engine.ProcessMessage(ctx, conversationID, input)
		conversationID = resp.ConversationID

		fmt.Fprintln(out, resp.Message)
		fmt.Fprintf(out, "[stage: %s]", resp.CurrentStage)
		if len(resp.FunctionCalls) > 0 {
			fmt.Fprintf(out, " [tools: %s]", strings.Join(resp.FunctionCalls, ", "))
		}
		if resp.RequiresHuman {
			fmt.Fprint(out, " [handoff requested]")
		}
		fmt.Fprintln(out)
	}
	return scanner.Err()
}
