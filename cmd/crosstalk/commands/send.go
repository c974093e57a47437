package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crosstalk-ai/crosstalk/internal/client"
	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

var (
	sendSurface string
	sendModel   string
	sendSession string
	sendTools   []string
)

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send a message to a session",
	Long: `Send a message to an existing session, or create one and send the
first message. With --session the message goes to that session; otherwise a
new session is created on the given surface.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendSession, "session", "", "Existing session id")
	sendCmd.Flags().StringVar(&sendSurface, "surface", "api", "Surface for a new session (api|terminal-subprocess|terminal-window|web|app)")
	sendCmd.Flags().StringVarP(&sendModel, "model", "m", "", "Model (provider/model) or terminal profile")
	sendCmd.Flags().StringSliceVar(&sendTools, "tools", nil, "Tools to bind on a new API session")
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	text := strings.Join(args, " ")

	c, cfg, err := buildClient(ctx)
	if err != nil {
		return err
	}

	id := sendSession
	if id == "" {
		dir, err := GetWorkDir(workDir)
		if err != nil {
			return err
		}
		model := sendModel
		if model == "" {
			model = cfg.Model
		}
		record, err := c.CreateSession(ctx, client.CreateOptions{
			Surface: types.Surface(sendSurface),
			Model:   model,
			WorkDir: dir,
			Tools:   sendTools,
		})
		if err != nil {
			return err
		}
		id = record.ID
		fmt.Printf("Created session %s\n", id)
	}

	res, err := c.SendMessage(ctx, id, text)
	if err != nil {
		return err
	}

	fmt.Printf("Outcome: %s (state %s)\n", res.Outcome, res.State)
	for _, msg := range res.Messages {
		if msg.Role == types.RoleAssistant {
			fmt.Println(msg.Text())
		}
	}
	for _, call := range res.Pending {
		fmt.Printf("Pending tool call %s (%s) awaits confirmation\n", call.CallID, call.ToolName)
	}
	return nil
}
