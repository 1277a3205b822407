package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/chatlink"
	"github.com/hupe1980/chatlink/core"
	"github.com/hupe1980/chatlink/engine"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat REPL",
	Long: `Reads prompts from stdin and streams replies to stdout. Session
commands:

  /new            start a fresh session
  /sessions       list sessions
  /switch <id>    switch to another session
  /quit           exit`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		presenter := &consolePresenter{out: os.Stdout}

		c, err := chatlink.New(func(o *chatlink.Options) {
			o.Config = cfg
			o.Logger = buildLogger(cfg)
			o.Presenter = presenter
		})
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Start(cmd.Context()); err != nil {
			return err
		}

		return runREPL(cmd, c)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runREPL(cmd *cobra.Command, c *chatlink.Chatlink) error {
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

		if strings.HasPrefix(line, "/") {
			done, err := runCommand(c, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			if done {
				return nil
			}
			continue
		}

		if err := c.ProcessQuery(cmd.Context(), line); err != nil {
			if errors.Is(err, engine.ErrBusy) {
				fmt.Fprintln(os.Stderr, "Still working on the previous prompt.")
				continue
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

func runCommand(c *chatlink.Chatlink, line string) (bool, error) {
	fields := strings.Fields(line)

	switch fields[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		id, err := c.NewSession()
		if err != nil {
			return false, err
		}
		fmt.Printf("Started session %s\n", id)
		return false, nil

	case "/sessions":
		sessions, err := c.Store().Sessions()
		if err != nil {
			return false, err
		}
		active := c.Store().ActiveID()
		for _, s := range sessions {
			marker := " "
			if s.ID == active {
				marker = "*"
			}
			fmt.Printf("%s %s  %s\n", marker, s.ID, s.Title)
		}
		return false, nil

	case "/switch":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: /switch <session-id>")
		}
		if err := c.SwitchSession(fields[1]); err != nil {
			return false, err
		}
		fmt.Printf("Switched to session %s\n", fields[1])
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %q", fields[0])
	}
}

// consolePresenter streams assistant output straight to the terminal.
type consolePresenter struct {
	out       *os.File
	streaming bool
}

var _ core.Presenter = (*consolePresenter)(nil)

func (p *consolePresenter) SyncHistory(string, []core.ChatMessage) {
	if p.streaming {
		fmt.Fprintln(p.out)
		p.streaming = false
	}
}

func (p *consolePresenter) AppendStreamingChunk(_ string, chunk string) {
	p.streaming = true
	fmt.Fprint(p.out, chunk)
}

func (p *consolePresenter) SetProcessingStatus(status string) {
	if status != "" {
		fmt.Fprintf(p.out, "[%s]\n", status)
	}
}

func (p *consolePresenter) PushSystemMessage(_ string, text string) {
	fmt.Fprintf(p.out, "! %s\n", text)
}
