package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/eventbus/value"
)

func newSendCommand(c *cli) *cobra.Command {
	var (
		address string
		body    string
		headers map[string]string
		reply   bool
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message to one handler of an address",
		Long: `Send a JSON body to one handler of an address through a running bridge.
With --reply the command waits for the reply, bounded by --timeout, and
prints its body.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseBody(body)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
			defer cancel()

			client := c.client()
			if !reply {
				if err := client.Send(ctx, address, payload, headers); err != nil {
					return fmt.Errorf("send to %s: %w", address, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sent to %s\n", address)
				return nil
			}

			resp, err := client.Request(ctx, address, payload, headers, c.timeout)
			if err != nil {
				return fmt.Errorf("request to %s: %w", address, err)
			}
			return printBody(cmd.OutOrStdout(), resp.Body)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Destination address (required)")
	cmd.Flags().StringVar(&body, "body", "null", "Message body as JSON")
	cmd.Flags().StringToStringVar(&headers, "header", nil, "Message header as key=value (repeatable)")
	cmd.Flags().BoolVar(&reply, "reply", false, "Wait for a reply and print it")
	if err := cmd.MarkFlagRequired("address"); err != nil {
		panic(fmt.Sprintf("mark address required: %v", err))
	}

	return cmd
}

func newPublishCommand(c *cli) *cobra.Command {
	var (
		address string
		body    string
		headers map[string]string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a message to every handler of an address",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseBody(body)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
			defer cancel()

			if err := c.client().Publish(ctx, address, payload, headers); err != nil {
				return fmt.Errorf("publish to %s: %w", address, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published to %s\n", address)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Destination address (required)")
	cmd.Flags().StringVar(&body, "body", "null", "Message body as JSON")
	cmd.Flags().StringToStringVar(&headers, "header", nil, "Message header as key=value (repeatable)")
	if err := cmd.MarkFlagRequired("address"); err != nil {
		panic(fmt.Sprintf("mark address required: %v", err))
	}

	return cmd
}

func parseBody(raw string) (value.Value, error) {
	v, err := value.ParseJSON([]byte(raw))
	if err != nil {
		return value.Value{}, fmt.Errorf("invalid JSON body: %w", err)
	}
	return v, nil
}

func printBody(w io.Writer, body value.Value) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
