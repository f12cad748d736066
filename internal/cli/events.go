package cli

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/safesh/safesh/internal/client"
	"github.com/safesh/safesh/pkg/types"
)

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Watch or query audit events on a running safesh server",
	}
	cmd.AddCommand(newEventsTailCmd(), newEventsQueryCmd())
	return cmd
}

func newEventsTailCmd() *cobra.Command {
	var (
		sessionID string
		typesCSV  string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail live events (SSE)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverURL(cmd))

			var filter []string
			if typesCSV != "" {
				filter = strings.Split(typesCSV, ",")
			}

			var (
				body io.ReadCloser
				err  error
			)
			if sessionID != "" {
				body, err = c.StreamSessionEvents(cmd.Context(), sessionID, filter)
			} else {
				body, err = c.StreamEvents(cmd.Context(), filter)
			}
			if err != nil {
				return err
			}
			defer body.Close()

			return client.DecodeEventStream(body, func(ev types.Event) error {
				return printJSON(cmd, ev)
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "tail a single session instead of the firehose")
	cmd.Flags().StringVar(&typesCSV, "type", "", "comma-separated event types to include")
	return cmd
}

func newEventsQueryCmd() *cobra.Command {
	var (
		sessionID string
		commandID string
		typesCSV  string
		outcome   string
		since     string
		until     string
		pathLike  string
		textLike  string
		limit     int
		offset    int
		asc       bool
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query stored events",
		Example: `  safesh events query --since 1h --type command_denied
  safesh events query --session session-abc --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			set := func(k, v string) {
				if v != "" {
					q.Set(k, v)
				}
			}
			set("session_id", sessionID)
			set("command_id", commandID)
			set("type", typesCSV)
			set("outcome", outcome)
			set("since", since)
			set("until", until)
			set("path_like", pathLike)
			set("text_like", textLike)
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}
			if asc {
				q.Set("order", "asc")
			}

			c := client.New(serverURL(cmd))
			evs, err := c.SearchEvents(cmd.Context(), q)
			if err != nil {
				return err
			}
			if len(evs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no events")
				return nil
			}
			return printJSON(cmd, evs)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "filter by session id")
	cmd.Flags().StringVar(&commandID, "command", "", "filter by command id")
	cmd.Flags().StringVar(&typesCSV, "type", "", "comma-separated event types")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by policy outcome")
	cmd.Flags().StringVar(&since, "since", "", "RFC3339 timestamp or relative duration (e.g. 30m)")
	cmd.Flags().StringVar(&until, "until", "", "RFC3339 timestamp or relative duration")
	cmd.Flags().StringVar(&pathLike, "path", "", "substring match on event path")
	cmd.Flags().StringVar(&textLike, "text", "", "substring match on event fields")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "offset into the result set")
	cmd.Flags().BoolVar(&asc, "asc", false, "oldest first")
	return cmd
}
