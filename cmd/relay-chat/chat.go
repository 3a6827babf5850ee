package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/stream"
	"github.com/fatih/color"
	"github.com/goccy/go-json"
)

type chat struct {
	client    *http.Client
	endpoint  string
	sender    string
	sessionID string
	out       io.Writer
	render    func(string) (string, error)
}

type chatRequest struct {
	Message   string `json:"message"`
	Sender    string `json:"sender,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

type reply struct {
	content string
	failed  bool
}

// Run reads prompts line by line until in is exhausted, ctx ends or the
// user types exit.
func (c *chat) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Split(bufio.ScanLines)

	for {
		fmt.Fprintf(c.out, "%s: ", color.CyanString(c.sender))
		if !scanner.Scan() {
			fmt.Fprintln(c.out, "Exiting...")
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if strings.EqualFold(input, "exit") {
			return nil
		}

		r, err := c.ask(ctx, input)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(c.out, "\n%s %v\n", color.RedString("Error:"), err)
			continue
		}
		c.print(r)
	}
}

func (c *chat) ask(ctx context.Context, prompt string) (reply, error) {
	body, err := json.Marshal(chatRequest{Message: prompt, Sender: c.sender, SessionID: c.sessionID})
	if err != nil {
		return reply{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return reply{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return reply{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return reply{}, fmt.Errorf("relayd answered %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	if id := resp.Header.Get("X-Session-Id"); id != "" {
		c.sessionID = id
	}

	fmt.Fprintf(c.out, "\n%s: ", color.MagentaString(messages.DefaultAssistantSender))
	var answer strings.Builder
	for delta, err := range stream.NewDecoder(resp.Body, stream.Relay).All() {
		if err != nil {
			return reply{}, err
		}
		if delta.Error {
			return reply{content: delta.Content, failed: true}, nil
		}
		if delta.Content != "" {
			fmt.Fprint(c.out, delta.Content)
			answer.WriteString(delta.Content)
		}
		if delta.IsComplete {
			break
		}
	}
	return reply{content: answer.String()}, nil
}

func (c *chat) print(r reply) {
	fmt.Fprintln(c.out)
	if r.failed {
		fmt.Fprintln(c.out, color.YellowString(r.content))
		return
	}
	if c.render == nil || r.content == "" {
		fmt.Fprintln(c.out)
		return
	}
	out, err := c.render(r.content)
	if err != nil {
		fmt.Fprintln(c.out)
		return
	}
	fmt.Fprintln(c.out, out)
}
