package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/auth"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/classroom"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/gallery"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/homework"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/reconcile"
	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
)

func newLoginCommand() *cobra.Command {
	var (
		class string
		role  string
		key   string
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with an access key and remember it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(app *clientApp) error {
				parsedRole, ok := classroom.ParseRole(role)
				if role != "" && !ok {
					return fmt.Errorf("unknown role %q", role)
				}
				session, err := app.signIn(cmd.Context(), auth.LoginRequest{Class: class, Role: parsedRole, Key: key})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s), class %s\n",
					session.DisplayName, session.Role.DisplayName(), session.EffectiveClass())
				if app.lastSync != nil && app.lastSync.Attempted > 0 {
					printSyncReport(cmd.OutOrStdout(), *app.lastSync)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&class, "class", "", "Class to open, e.g. 10-M")
	cmd.Flags().StringVar(&role, "role", "", "Role selected on the login screen")
	cmd.Flags().StringVar(&key, "key", "", "Access key")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved key and session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(app *clientApp) error {
				if err := app.credentials.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "logged out")
				return nil
			})
		},
	}
}

// interruptible returns a context cancelled on SIGINT or SIGTERM.
func interruptible(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func printHomework(out io.Writer, record classroom.HomeworkRecord, raw bool) {
	content := homework.VisibleText(record.Homework)
	if raw {
		content = record.Homework
	}
	fmt.Fprintf(out, "[%s]\n%s\n", record.LastUpdate, content)
}

func newHomeworkCommand() *cobra.Command {
	homeworkCmd := &cobra.Command{
		Use:   "homework",
		Short: "Show or edit the homework of the current class",
	}

	var (
		watch bool
		raw   bool
	)
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the cached homework, then the store's",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := interruptible(cmd.Context())
			defer stop()
			return withSession(ctx, func(app *clientApp, session *auth.Session) error {
				out := cmd.OutOrStdout()
				var (
					mu     sync.Mutex
					latest *classroom.HomeworkRecord
				)
				subscription, err := app.homework.Load(ctx, session, func(record classroom.HomeworkRecord) {
					mu.Lock()
					defer mu.Unlock()
					if watch {
						printHomework(out, record, raw)
						return
					}
					latest = &record
				})
				if err != nil {
					return err
				}
				defer subscription.Close()

				if !watch {
					mu.Lock()
					defer mu.Unlock()
					if latest == nil {
						fmt.Fprintln(out, "no homework yet")
					} else {
						printHomework(out, *latest, raw)
					}
					if !subscription.Live {
						fmt.Fprintln(out, "(offline: cached copy)")
					}
					return nil
				}
				if !subscription.Live {
					return errors.New("store unreachable, nothing to watch")
				}
				<-ctx.Done()
				return nil
			})
		},
	}
	showCmd.Flags().BoolVar(&watch, "watch", false, "Keep printing updates until interrupted")
	showCmd.Flags().BoolVar(&raw, "html", false, "Print the stored HTML instead of its text")

	var file string
	saveCmd := &cobra.Command{
		Use:   "save [content]",
		Short: "Save new homework; offline saves are queued",
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")
			if file != "" {
				body, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				content = string(body)
			}
			return withSession(cmd.Context(), func(app *clientApp, session *auth.Session) error {
				result, err := app.homework.Save(cmd.Context(), session, content)
				if err != nil {
					return err
				}
				if result.Synced {
					fmt.Fprintf(cmd.OutOrStdout(), "saved at %s\n", result.Record.LastUpdate)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "saved locally, queued as %s\n", result.PendingID)
				}
				return nil
			})
		},
	}
	saveCmd.Flags().StringVarP(&file, "file", "f", "", "Read the homework HTML from a file")

	homeworkCmd.AddCommand(showCmd, saveCmd)
	return homeworkCmd
}

func newGalleryCommand() *cobra.Command {
	galleryCmd := &cobra.Command{
		Use:   "gallery",
		Short: "List, upload or delete class images",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the class gallery, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(app *clientApp, session *auth.Session) error {
				var (
					mu     sync.Mutex
					latest classroom.Gallery
				)
				subscription, err := app.gallery.Load(cmd.Context(), session, func(images classroom.Gallery) {
					mu.Lock()
					latest = images
					mu.Unlock()
				})
				if err != nil {
					return err
				}
				subscription.Close()
				mu.Lock()
				defer mu.Unlock()

				writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(writer, "ID\tNAME\tSIZE\tUPLOADED")
				for _, entry := range latest.Sorted() {
					fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
						entry.FileName, entry.OriginalName, humanize.IBytes(uint64(entry.Size)), entry.UploadedAt)
				}
				if err := writer.Flush(); err != nil {
					return err
				}
				if !subscription.Live {
					fmt.Fprintln(cmd.OutOrStdout(), "(offline: cached copy)")
				}
				return nil
			})
		},
	}

	addCmd := &cobra.Command{
		Use:   "add <image-file>",
		Short: "Upload an image; offline uploads are queued",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(app *clientApp, session *auth.Session) error {
				result, err := app.gallery.Upload(cmd.Context(), session, gallery.UploadRequest{
					Payload:      payload,
					OriginalName: filepath.Base(args[0]),
					ContentType:  mimetype.Detect(payload).String(),
				})
				if err != nil {
					return err
				}
				return reportGalleryResult(cmd.OutOrStdout(), "uploaded", result)
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <image-id>",
		Short: "Delete an image; offline deletions are queued",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(app *clientApp, session *auth.Session) error {
				result, err := app.gallery.Delete(cmd.Context(), session, args[0])
				if err != nil {
					return err
				}
				return reportGalleryResult(cmd.OutOrStdout(), "deleted", result)
			})
		},
	}

	galleryCmd.AddCommand(listCmd, addCmd, deleteCmd)
	return galleryCmd
}

func reportGalleryResult(out io.Writer, verb string, result gallery.Result) error {
	if result.Synced {
		_, err := fmt.Fprintf(out, "%s %s\n", verb, result.ImageID)
		return err
	}
	_, err := fmt.Fprintf(out, "%s %s locally, queued as %s\n", verb, result.ImageID, result.PendingID)
	return err
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued changes against the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(app *clientApp, _ *auth.Session) error {
				report, err := app.syncReport(cmd.Context())
				if err != nil {
					return err
				}
				printSyncReport(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
}

func printSyncReport(out io.Writer, report reconcile.Report) {
	fmt.Fprintf(out, "attempted %d, synced %d, failed %d\n", report.Attempted, report.Synced, report.Failed)
	for _, failure := range report.Failures {
		fmt.Fprintf(out, "  %s %s/%s: %v\n", failure.Change.ID, failure.Change.Kind, failure.Change.Class, failure.Err)
	}
}

func newQueueCommand() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the pending change queue",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List queued changes in replay order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(app *clientApp) error {
				writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(writer, "ID\tTYPE\tCLASS\tFILE\tQUEUED")
				for _, change := range app.queue.List() {
					queuedAt := time.UnixMilli(change.Timestamp)
					fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
						change.ID, change.Kind, change.Class, change.FileName, humanize.Time(queuedAt))
				}
				return writer.Flush()
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every queued change without replaying it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(app *clientApp) error {
				dropped := app.queue.Len()
				if err := app.queue.Clear(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "dropped %d changes\n", dropped)
				return nil
			})
		},
	}

	queueCmd.AddCommand(listCmd, clearCmd)
	return queueCmd
}

func newCacheCommand() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the local cache",
	}

	sizeCmd := &cobra.Command{
		Use:   "size",
		Short: "Estimate the space the cache takes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(app *clientApp) error {
				size, err := app.cache.SizeEstimate()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes)\n", humanize.IBytes(uint64(size)), size)
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached homework and gallery record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(app *clientApp) error {
				if err := app.cache.ClearAll(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
				return nil
			})
		},
	}

	cacheCmd.AddCommand(sizeCmd, clearCmd)
	return cacheCmd
}
