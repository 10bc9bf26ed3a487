package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/controller"
	"github.com/wardenhq/warden/internal/memory"
)

var chatTenant string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session with conversation memory",
	Long: `Starts a REPL where each exchange is remembered per the tenant's memory
mode. Session commands:

  /mode buffer|summary|none   switch the tenant's memory mode
  /clear                      wipe the tenant's conversation memory
  /exit                       leave the session`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatTenant, "tenant", "", "requesting tenant ID (required)")
	_ = chatCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "chat")
	defer span.End()

	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	if err := validateTenant(p.cfg.Tenants, chatTenant); err != nil {
		return err
	}

	mode, err := p.mem.Mode(ctx, chatTenant)
	if err != nil {
		return err
	}
	fmt.Printf("warden chat — tenant %s, memory mode %s. /exit to quit.\n", chatTenant, mode)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("%s> ", chatTenant)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			done, err := handleChatCommand(cmd, p, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			if done {
				return nil
			}
			continue
		}

		decision, err := p.engine.Query(ctx, controller.Request{
			Tenant:   chatTenant,
			Query:    line,
			Remember: true,
		})
		if err != nil {
			if controller.IsTransient(err) {
				fmt.Fprintln(os.Stderr, "temporary failure, try again")
				continue
			}
			return err
		}
		fmt.Println(formatDecision(decision))
	}
	return scanner.Err()
}

// handleChatCommand processes one /-prefixed session command. It returns
// true when the session should end.
func handleChatCommand(cmd *cobra.Command, p *pipeline, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return true, nil
	case "/clear":
		if err := p.mem.Clear(cmd.Context(), chatTenant); err != nil {
			return false, err
		}
		fmt.Println("memory cleared")
		return false, nil
	case "/mode":
		if len(fields) < 2 {
			mode, err := p.mem.Mode(cmd.Context(), chatTenant)
			if err != nil {
				return false, err
			}
			fmt.Printf("memory mode: %s\n", mode)
			return false, nil
		}
		mode, err := memory.ParseMode(fields[1])
		if err != nil {
			return false, err
		}
		if err := p.mem.SetMode(cmd.Context(), chatTenant, mode); err != nil {
			return false, err
		}
		fmt.Printf("memory mode set to %s\n", mode)
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s (try /mode, /clear, /exit)", fields[0])
	}
}
