package tourctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/tourbook/pkg/apiclient"
	"github.com/spf13/cobra"
)

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <endpoint>",
		Short: "GET an endpoint, e.g. /bookings/my-bookings",
		Args:  cobra.ExactArgs(1),
		RunE: opts.run(func(cmd *cobra.Command, args []string) error {
			return send(cmd, opts, http.MethodGet, args[0], "")
		}),
	}
}

func newRequestCmd(opts *options) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "request <METHOD> <endpoint>",
		Short: "Send an arbitrary request, e.g. request POST /bookings --data '{...}'",
		Args:  cobra.ExactArgs(2),
		RunE: opts.run(func(cmd *cobra.Command, args []string) error {
			return send(cmd, opts, strings.ToUpper(args[0]), args[1], data)
		}),
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	return cmd
}

func send(cmd *cobra.Command, opts *options, method, endpoint, data string) error {
	ctx, gw, err := opts.openGateway(cmd.Context())
	if err != nil {
		return err
	}

	req := apiclient.Request{Method: method, Endpoint: endpoint}
	if data != "" {
		if !json.Valid([]byte(data)) {
			return fmt.Errorf("--data is not valid JSON")
		}
		req.Body = json.RawMessage(data)
	}

	resp, err := gw.Do(ctx, req)
	if err != nil {
		return explain(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	out := cmd.OutOrStdout()
	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		writeLine(out, pretty.String())
	} else if len(body) > 0 {
		writeLine(out, string(body))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend returned %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return nil
}
