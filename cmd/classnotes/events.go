package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"text/tabwriter"
	"time"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/auth"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/config"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/overlay"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/overlay/snow"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const frameInterval = 16 * time.Millisecond

func newOverlayRegistry(scheduler overlay.Scheduler, logger *zap.Logger) (*overlay.Registry, error) {
	registry := overlay.NewRegistry()
	err := registry.Register(snow.Name, snow.Constructor(snow.Options{
		Scheduler: scheduler,
		Logger:    logger.Named("snow"),
	}))
	if err != nil {
		return nil, err
	}
	return registry, nil
}

// withOverlays runs fn with a manager bound to the hosted events pointer.
func withOverlays(ctx context.Context, fn func(manager *overlay.Manager, session *auth.Session) error) error {
	return withSession(ctx, func(app *clientApp, session *auth.Session) error {
		scheduler := overlay.NewRealtimeScheduler(frameInterval)
		defer scheduler.Close()

		registry, err := newOverlayRegistry(scheduler, app.logger)
		if err != nil {
			return err
		}
		manager, err := overlay.NewManager(overlay.ManagerConfig{
			Registry: registry,
			Store:    app.remote,
			Surface:  overlay.NewStaticSurface(app.config.ViewportWidth, app.config.ViewportHeight),
			Logger:   app.logger,
		})
		if err != nil {
			return err
		}
		return fn(manager, session)
	})
}

func newEventCommand() *cobra.Command {
	eventCmd := &cobra.Command{
		Use:   "event",
		Short: "Manage the page-wide event shared by every portal client",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the available events",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := newOverlayRegistry(overlay.NewVirtualScheduler(time.Now(), frameInterval), zap.NewNop())
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "NAME\tADMIN ONLY\tDESCRIPTION")
			for _, name := range registry.Names() {
				constructor, _ := registry.Lookup(name)
				status := constructor().Status()
				fmt.Fprintf(writer, "%s\t%t\t%s\n", status.Name, status.RequiresAdmin, status.Description)
			}
			return writer.Flush()
		},
	}

	activateCmd := &cobra.Command{
		Use:   "activate <name>",
		Short: "Start an event for every client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOverlays(cmd.Context(), func(manager *overlay.Manager, session *auth.Session) error {
				if err := manager.Activate(cmd.Context(), args[0], session.Role); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s activated\n", args[0])
				return nil
			})
		},
	}

	deactivateCmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Stop the active event for every client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOverlays(cmd.Context(), func(manager *overlay.Manager, session *auth.Session) error {
				if !session.IsAdmin() {
					return overlay.ErrAdminRequired
				}
				name, err := manager.Restore(cmd.Context())
				if err != nil {
					return err
				}
				if name == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "no active event")
					return nil
				}
				if err := manager.Deactivate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s deactivated\n", name)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show which event is active",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOverlays(cmd.Context(), func(manager *overlay.Manager, _ *auth.Session) error {
				pointer, found, err := manager.Pointer(cmd.Context())
				if err != nil {
					return err
				}
				if !found {
					fmt.Fprintln(cmd.OutOrStdout(), "no active event")
					return nil
				}
				activatedAt := time.UnixMilli(pointer.ActivatedAt)
				fmt.Fprintf(cmd.OutOrStdout(), "%s, activated %s by %s\n",
					pointer.Name, humanize.Time(activatedAt), pointer.ActivatedBy)
				return nil
			})
		},
	}

	eventCmd.AddCommand(listCmd, activateCmd, deactivateCmd, statusCmd)
	return eventCmd
}

func newSnowCommand() *cobra.Command {
	snowCmd := &cobra.Command{
		Use:   "snow",
		Short: "Tools for the snowfall event",
	}

	var (
		seconds int
		stormAt int
		meltAt  int
		seed    uint64
	)
	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the snowfall offline on a virtual clock and print the population",
		RunE: func(cmd *cobra.Command, args []string) error {
			clientConfig, err := config.LoadClient(viper.GetViper())
			if err != nil {
				return err
			}
			return simulateSnow(cmd.Context(), cmd.OutOrStdout(), simulation{
				seconds: seconds,
				stormAt: stormAt,
				meltAt:  meltAt,
				seed:    seed,
				width:   clientConfig.ViewportWidth,
				height:  clientConfig.ViewportHeight,
			})
		},
	}
	simulateCmd.Flags().IntVar(&seconds, "seconds", 20, "Simulated seconds to run")
	simulateCmd.Flags().IntVar(&stormAt, "storm-at", -1, "Second at which a storm starts (-1 for none)")
	simulateCmd.Flags().IntVar(&meltAt, "melt-at", -1, "Second at which the snow melts away (-1 for none)")
	simulateCmd.Flags().Uint64Var(&seed, "seed", 1, "Random seed of the simulation")

	snowCmd.AddCommand(simulateCmd)
	return snowCmd
}

type simulation struct {
	seconds int
	stormAt int
	meltAt  int
	seed    uint64
	width   float64
	height  float64
}

func simulateSnow(ctx context.Context, out io.Writer, sim simulation) error {
	scheduler := overlay.NewVirtualScheduler(time.Unix(0, 0), frameInterval)
	engine, err := snow.New(snow.Options{
		Scheduler: scheduler,
		Rand:      rand.New(rand.NewPCG(sim.seed, sim.seed^0x9e3779b97f4a7c15)),
	})
	if err != nil {
		return err
	}
	if err := engine.Activate(ctx, overlay.NewStaticSurface(sim.width, sim.height), kvstore.NewMemoryStore()); err != nil {
		return err
	}
	defer engine.Deactivate(ctx)

	fmt.Fprintf(out, "t=0s flakes=%d\n", engine.Count())
	for second := 1; second <= sim.seconds; second++ {
		if second-1 == sim.stormAt {
			if err := engine.TriggerStorm(ctx); err != nil {
				return err
			}
		}
		if second-1 == sim.meltAt {
			if err := engine.MeltAway(); err != nil {
				return err
			}
		}
		scheduler.Advance(time.Second)

		mode := ""
		switch {
		case engine.Melting():
			mode = " melting"
		case engine.StormActive():
			mode = " storm"
		}
		fmt.Fprintf(out, "t=%ds flakes=%d%s\n", second, engine.Count(), mode)
	}
	return nil
}
