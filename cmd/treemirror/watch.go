package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"treemirror/internal/config"
	"treemirror/internal/event"
	"treemirror/internal/mirror"
)

const (
	watchBufferSize = 1024
	// watchWriteTimeout bounds how long the mirror waits on a stalled terminal
	// before the printer is dropped.
	watchWriteTimeout = 5 * time.Second
)

var errRootRemoved = errors.New("watched root was removed")

var kindStyles = map[mirror.ChangeKind]*color.Color{
	mirror.ChangeCreated:  color.New(color.FgGreen),
	mirror.ChangeDeleted:  color.New(color.FgRed),
	mirror.ChangeModified: color.New(color.FgYellow),
	mirror.ChangeRenamed:  color.New(color.FgMagenta),
}

func newWatchCommand(global *globalOptions) *cobra.Command {
	var filters filterFlags
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Follow a directory and print every change to its mirror",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig(cmd, config.Overrides{}, nil)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bus := event.NewBus[mirror.Change](ctx, event.BusOptions{
				Name:                 "watch",
				SubscriberBufferSize: watchBufferSize,
				BlockOnFull:          true,
				WriteTimeout:         watchWriteTimeout,
				Logger:               logger,
			})
			defer bus.Close()

			root, err := openRoot(cfg, dir, filters, logger, bus)
			if err != nil {
				return err
			}
			// Subscribe after the initial import so only live changes print.
			changes, unsubscribe := bus.Subscribe()

			binding, err := mirror.Watch(root, mirror.BindingOptions{Logger: logger})
			if err != nil {
				unsubscribe()
				return err
			}
			// Unsubscribe first so a publish blocked on the printer cannot hold up Stop.
			defer func() {
				unsubscribe()
				_ = binding.Stop()
			}()

			if !asJSON {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", headerStyle.Sprint("watching"), dirStyle.Sprint(root.Path()))
			}
			return streamChanges(ctx, cmd.OutOrStdout(), changes, binding.Done(), asJSON)
		},
	}
	filters.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per change")
	return cmd
}

// streamChanges prints changes until ctx ends or the stream closes. It fails
// with errRootRemoved when the binding stops on its own.
func streamChanges(ctx context.Context, w io.Writer, changes <-chan mirror.Change, done <-chan struct{}, asJSON bool) error {
	encoder := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return errRootRemoved
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			if asJSON {
				if err := encoder.Encode(change); err != nil {
					return err
				}
				continue
			}
			if _, err := fmt.Fprintln(w, formatChange(change)); err != nil {
				return err
			}
		}
	}
}

func formatChange(change mirror.Change) string {
	kind := string(change.Kind)
	if style, ok := kindStyles[change.Kind]; ok {
		kind = style.Sprintf("%-8s", change.Kind)
	}
	path := displayPath(change.Path, change.Dir)
	if change.Kind == mirror.ChangeRenamed {
		path = displayPath(change.OldPath, change.Dir) + " -> " + path
	}
	return fmt.Sprintf("%s %s %s", change.OccurredAt.Format("15:04:05.000"), kind, path)
}

func displayPath(path string, dir bool) string {
	if path == "" {
		path = "."
	}
	if dir {
		return dirStyle.Sprint(path + "/")
	}
	return path
}
