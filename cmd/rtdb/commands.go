package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb"
)

const (
	shallowFlag    = "shallow"
	orderByFlag    = "order-by"
	startAtFlag    = "start-at"
	endAtFlag      = "end-at"
	equalToFlag    = "equal-to"
	limitFirstFlag = "limit-first"
	limitLastFlag  = "limit-last"
	serverKeyFlag  = "server-key"

	orderByKeyValue   = "$key"
	orderByValueValue = "$value"
)

// ErrConflictingFlags is returned when flags that exclude each other are combined.
var ErrConflictingFlags = errors.New("conflicting flags")

func newGetCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Print the JSON value at path",
		Long: `Print the JSON value at path.

--order-by takes a child key, $key or $value. Range bounds are quoted automatically for $key and $value,
and passed verbatim for child keys.`,
		Args: cobra.ExactArgs(1),
	}

	flags := cmd.Flags()
	flags.Bool(shallowFlag, false, "only fetch the keys of the direct children")
	flags.String(orderByFlag, "", "order by a child key, $key or $value")
	flags.String(startAtFlag, "", "lower bound of the ordered range")
	flags.String(endAtFlag, "", "upper bound of the ordered range")
	flags.String(equalToFlag, "", "exact match on the ordered value")
	flags.Int(limitFirstFlag, 0, "limit to the first n children")
	flags.Int(limitLastFlag, 0, "limit to the last n children")

	cmd.RunE = a.runE(func(cmd *cobra.Command, args []string) error {
		ref, err := filteredReference(cmd, args[0])
		if err != nil {
			return err
		}

		shallow, _ := cmd.Flags().GetBool(shallowFlag)
		orderBy, _ := cmd.Flags().GetString(orderByFlag)
		if shallow && orderBy != "" {
			return fmt.Errorf("%w: --%s and --%s", ErrConflictingFlags, shallowFlag, orderByFlag)
		}

		ctx, cancel := a.requestContext(cmd)
		defer cancel()

		var raw json.RawMessage
		switch {
		case orderBy == orderByKeyValue:
			raw, err = a.client.OrderByKey(ctx, ref)
		case orderBy == orderByValueValue:
			raw, err = a.client.OrderByValue(ctx, ref)
		case orderBy != "":
			raw, err = a.client.OrderByChild(ctx, ref, orderBy)
		case shallow:
			raw, err = a.client.ReadShallow(ctx, ref)
		default:
			raw, err = a.client.Read(ctx, ref)
		}
		if err != nil {
			return err
		}

		return printLine(cmd.OutOrStdout(), string(raw))
	})

	return cmd
}

func newSetCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <path> <json>",
		Short: "Replace the value at path",
		Args:  cobra.ExactArgs(2),
	}

	cmd.RunE = a.runE(func(cmd *cobra.Command, args []string) error {
		ctx, cancel := a.requestContext(cmd)
		defer cancel()

		return a.client.WriteJSON(ctx, realtimedb.NewReference(args[0]), []byte(args[1]))
	})

	return cmd
}

func newUpdateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <path> <json-object>",
		Short: "Merge the fields of a JSON object into the value at path",
		Args:  cobra.ExactArgs(2),
	}

	cmd.RunE = a.runE(func(cmd *cobra.Command, args []string) error {
		ctx, cancel := a.requestContext(cmd)
		defer cancel()

		return a.client.UpdateJSON(ctx, realtimedb.NewReference(args[0]), []byte(args[1]))
	})

	return cmd
}

func newPushCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <path> <json>",
		Short: "Store a value below a new time-ordered child key and print the key",
		Args:  cobra.ExactArgs(2),
	}

	cmd.Flags().Bool(serverKeyFlag, false, "let the server choose the key")

	cmd.RunE = a.runE(func(cmd *cobra.Command, args []string) error {
		ctx, cancel := a.requestContext(cmd)
		defer cancel()

		ref := realtimedb.NewReference(args[0])
		raw := []byte(args[1])

		serverKey, _ := cmd.Flags().GetBool(serverKeyFlag)

		var key string
		var err error
		if serverKey {
			if !json.Valid(raw) {
				return fmt.Errorf("%w: %s", realtimedb.ErrInvalidJSON, args[1])
			}
			key, err = a.client.PushServerKey(ctx, ref, json.RawMessage(raw))
		} else {
			key, err = a.client.PushJSON(ctx, ref, raw)
		}
		if err != nil {
			return err
		}

		return printLine(cmd.OutOrStdout(), key)
	})

	return cmd
}

func newDeleteCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <path>",
		Short: "Remove the value at path",
		Args:  cobra.ExactArgs(1),
	}

	cmd.RunE = a.runE(func(cmd *cobra.Command, args []string) error {
		ctx, cancel := a.requestContext(cmd)
		defer cancel()

		return a.client.Delete(ctx, realtimedb.NewReference(args[0]))
	})

	return cmd
}

// filteredReference applies the range and limit flags of cmd to path.
func filteredReference(cmd *cobra.Command, path string) (realtimedb.Reference, error) {
	flags := cmd.Flags()
	ref := realtimedb.NewReference(path)

	if flags.Changed(startAtFlag) {
		value, _ := flags.GetString(startAtFlag)
		ref = ref.StartAt(value)
	}

	if flags.Changed(endAtFlag) {
		value, _ := flags.GetString(endAtFlag)
		ref = ref.EndAt(value)
	}

	if flags.Changed(equalToFlag) {
		value, _ := flags.GetString(equalToFlag)
		ref = ref.EqualTo(value)
	}

	if flags.Changed(limitFirstFlag) && flags.Changed(limitLastFlag) {
		return ref, fmt.Errorf("%w: --%s and --%s", ErrConflictingFlags, limitFirstFlag, limitLastFlag)
	}

	if flags.Changed(limitFirstFlag) {
		n, _ := flags.GetInt(limitFirstFlag)
		ref = ref.LimitToFirst(n)
	}

	if flags.Changed(limitLastFlag) {
		n, _ := flags.GetInt(limitLastFlag)
		ref = ref.LimitToLast(n)
	}

	return ref, ref.Err()
}

func printLine(w io.Writer, line string) error {
	_, err := fmt.Fprintln(w, strings.TrimRight(line, "\n"))

	return err
}
