package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb"
	"github.com/AntonStoeckl/realtime-database-go/realtimedb/httpengine"
)

const kindFlag = "kind"

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// eventLine is one line of listen output.
type eventLine struct {
	Kind string          `json:"kind"`
	Path string          `json:"path"`
	Key  string          `json:"key,omitempty"`
	Data json.RawMessage `json:"data"`
}

func newListenCommand(a *app) *cobra.Command {
	kinds := make([]string, 0, 4)
	for _, k := range []realtimedb.EventKind{
		realtimedb.ValueChanged, realtimedb.ChildAdded, realtimedb.ChildRemoved, realtimedb.ChildChanged,
	} {
		kinds = append(kinds, k.String())
	}

	cmd := &cobra.Command{
		Use:   "listen <path>",
		Short: "Print change events at path as JSON lines until interrupted",
		Args:  cobra.ExactArgs(1),
	}

	cmd.Flags().String(kindFlag, realtimedb.ValueChanged.String(), "event kind: "+strings.Join(kinds, ", "))
	cmd.Flags().Bool(shallowFlag, false, "replace child payloads by true")

	cmd.RunE = a.runE(func(cmd *cobra.Command, args []string) error {
		kindName, _ := cmd.Flags().GetString(kindFlag)
		kind, ok := realtimedb.ParseEventKind(kindName)
		if !ok {
			return fmt.Errorf("%w: unknown --%s %q", realtimedb.ErrInvalidArgument, kindFlag, kindName)
		}

		shallow, _ := cmd.Flags().GetBool(shallowFlag)
		printer := &eventPrinter{w: cmd.OutOrStdout()}

		sub, err := a.client.Listen(realtimedb.NewReference(args[0]), kind, printer.print, httpengine.WithShallow(shallow))
		if err != nil {
			return err
		}

		<-cmd.Context().Done()

		if err := sub.Close(); err != nil {
			return err
		}

		return printer.err()
	})

	return cmd
}

// eventPrinter writes events as JSON lines and keeps the first write error.
type eventPrinter struct {
	mu       sync.Mutex
	w        io.Writer
	writeErr error
}

func (p *eventPrinter) print(event realtimedb.ChangeEvent) {
	line, err := jsonAPI.Marshal(eventLine{
		Kind: event.Kind().String(),
		Path: event.Path(),
		Key:  event.Key(),
		Data: event.Payload(),
	})

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writeErr != nil {
		return
	}

	if err == nil {
		_, err = fmt.Fprintln(p.w, string(line))
	}
	p.writeErr = err
}

func (p *eventPrinter) err() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.writeErr
}
