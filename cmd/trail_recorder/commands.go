package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/trailog/recorder/internal/api"
	"github.com/trailog/recorder/internal/auth"
	"github.com/trailog/recorder/internal/feed"
	"github.com/trailog/recorder/internal/location"
	"github.com/trailog/recorder/pkg/core"
	"go.opentelemetry.io/otel/attribute"
)

const timeLayout = "2006-01-02 15:04:05"

func commandAttr(name string) attribute.KeyValue {
	return attribute.String("command", name)
}

// cmdRecord replays a track file through a recording session and stops it
// once every sample was delivered. Interrupting leaves the session in the
// snapshot for cmdRecover.
func (a *app) cmdRecord(ctx context.Context, args []string) error {
	a.countCommand(ctx, "record")

	flags := flag.NewFlagSet("record", flag.ContinueOnError)
	flags.SetOutput(a.out)
	pace := flags.Duration("pace", 0, "delay between replayed samples")
	background := flags.Bool("background", false, "deliver every sample after the first through the background buffer")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: trail_recorder record [-pace d] [-background] <track file>")
	}
	path := flags.Arg(0)

	points, err := location.LoadTrack(path)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return fmt.Errorf("track %s has no points", path)
	}

	live, rest := points, []core.TrackPoint(nil)
	if *background {
		live, rest = points[:1], points[1:]
	}

	source := location.NewReplay(live, location.WithPace(*pace))
	rec, err := a.newRecorder(source)
	if err != nil {
		return err
	}
	if err := rec.Start(ctx); err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}
	fmt.Fprintf(a.out, "Recording %d samples from %s\n", len(points), path)

	waits := []<-chan struct{}{source.Done()}
	if len(rest) > 0 {
		bg := location.NewReplay(rest, location.WithPace(*pace))
		task := location.NewBackgroundTask(bg, a.buffer, a.logger)
		if err := task.Start(ctx); err != nil {
			a.logger.Warn("Background delivery unavailable", "error", err)
		} else {
			defer task.Stop()
			waits = append(waits, bg.Done())
		}
	}

	for _, done := range waits {
		select {
		case <-done:
		case <-ctx.Done():
			rec.Shutdown()
			fmt.Fprintln(a.out, "Interrupted, run `trail_recorder recover` to finish the hike")
			return nil
		}
	}

	res := rec.Stop(ctx)
	a.printResult(res)

	if res.Outcome == core.OutcomeSavedRemote {
		a.syncQuietly(ctx)
	}
	return resultErr(res)
}

// cmdRecover restores a session left in the snapshot and stops it right away.
func (a *app) cmdRecover(ctx context.Context) error {
	a.countCommand(ctx, "recover")

	rec, err := a.newRecorder(location.NewReplay(nil))
	if err != nil {
		return err
	}
	restored, err := rec.Restore(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	if !restored {
		fmt.Fprintln(a.out, "Nothing to recover")
		return nil
	}

	st := rec.State()
	fmt.Fprintf(a.out, "Restored hike started %s: %d points, %.0f m, %ds\n",
		st.StartedAt.Format(timeLayout), len(st.Points), st.Distance, st.Elapsed)

	res := rec.Stop(ctx)
	a.printResult(res)
	return resultErr(res)
}

// cmdSync runs one reconcile pass, or with -watch keeps syncing whenever the
// server becomes reachable until interrupted.
func (a *app) cmdSync(ctx context.Context, args []string) error {
	a.countCommand(ctx, "sync")

	flags := flag.NewFlagSet("sync", flag.ContinueOnError)
	flags.SetOutput(a.out)
	watch := flags.Bool("watch", false, "keep running and sync when connectivity returns")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if !*watch {
		n, err := a.watcher.RunOnce(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Fprintln(a.out, "Nothing synced")
		}
		return nil
	}

	a.prober.Start()
	a.watcher.Start()
	fmt.Fprintln(a.out, "Watching connectivity, press Ctrl+C to stop")
	<-ctx.Done()
	a.watcher.Stop()
	a.prober.Stop()
	return nil
}

func (a *app) cmdStatus(ctx context.Context) error {
	a.countCommand(ctx, "status")

	userID, err := a.auth.UserID(ctx)
	switch {
	case err == nil:
		fmt.Fprintf(a.out, "Account:      %s\n", userID)
	case errors.Is(err, auth.ErrNotAuthenticated):
		fmt.Fprintln(a.out, "Account:      not logged in")
	default:
		fmt.Fprintf(a.out, "Account:      invalid token (%v)\n", err)
	}

	st, _ := a.prober.FetchStatus(ctx)
	switch {
	case st.Confirmed():
		fmt.Fprintln(a.out, "Server:       reachable")
	case st.Online():
		fmt.Fprintln(a.out, "Server:       connected, reachability unknown")
	default:
		fmt.Fprintln(a.out, "Server:       offline")
	}

	rec, err := a.newRecorder(location.NewReplay(nil))
	if err != nil {
		return err
	}
	snap, err := rec.Snapshots().Get(ctx)
	if err != nil {
		return err
	}
	if snap != nil && snap.Status.Active() {
		fmt.Fprintf(a.out, "Unfinished:   %s hike from %s, %d points, %.0f m\n",
			snap.Status, time.UnixMilli(snap.StartTs).Format(timeLayout), len(snap.Points), snap.Distance)
	}

	buffered, err := a.buffer.Len(ctx)
	if err != nil {
		return err
	}
	if buffered > 0 {
		fmt.Fprintf(a.out, "Buffered:     %d background points\n", buffered)
	}

	count, err := a.queue.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Queued hikes: %d\n", count)

	pending, err := a.queue.List(ctx, 0)
	if err != nil {
		return err
	}
	for _, h := range pending {
		line := fmt.Sprintf("  %s  %s  %d m  %ds",
			h.TrailID, time.UnixMilli(h.CreatedAt).Format(timeLayout), h.DistanceM, h.DurationS)
		if h.LastError != nil {
			line += "  last error: " + *h.LastError
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}

// cmdTrails lists the server's trails. With -follow it then prints trails
// saved from other devices as they arrive, until interrupted.
func (a *app) cmdTrails(ctx context.Context, args []string) error {
	a.countCommand(ctx, "trails")

	flags := flag.NewFlagSet("trails", flag.ContinueOnError)
	flags.SetOutput(a.out)
	follow := flags.Bool("follow", false, "keep printing newly saved trails")
	if err := flags.Parse(args); err != nil {
		return err
	}

	token, err := a.auth.Token(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return auth.ErrNotAuthenticated
	}

	trails, err := a.client.ListTrails(ctx, token)
	if errors.Is(err, api.ErrUnauthorized) {
		a.signOut(ctx)
	}
	if err != nil {
		return err
	}
	if len(trails) == 0 {
		fmt.Fprintln(a.out, "No trails on the server")
	}
	for _, t := range trails {
		a.printTrail(t)
	}
	if !*follow {
		return nil
	}

	liveURL, err := feed.LiveURL(a.client.BaseURL())
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Following new trails, press Ctrl+C to stop")
	err = feed.Follow(ctx, liveURL, token, a.printTrail, a.logger)
	if errors.Is(err, api.ErrUnauthorized) {
		a.signOut(ctx)
	}
	return err
}

func (a *app) printTrail(t api.Trail) {
	fmt.Fprintf(a.out, "%s  %s  %d m  %ds\n",
		t.TrailID, time.UnixMilli(t.StartedAt).Format(timeLayout), t.DistanceM, t.DurationS)
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	a.countCommand(ctx, "login")

	if len(args) != 1 {
		return errors.New("usage: trail_recorder login <token>")
	}
	userID, err := auth.UserIDFromToken(args[0])
	if err != nil {
		return fmt.Errorf("token rejected: %w", err)
	}
	if err := a.auth.Save(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Logged in as %s\n", userID)

	a.syncQuietly(ctx)
	return nil
}

func (a *app) cmdLogout(ctx context.Context) error {
	a.countCommand(ctx, "logout")

	if err := a.auth.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

// syncQuietly uploads older queued hikes after something made it likely the
// server accepts them. Failures only get logged.
func (a *app) syncQuietly(ctx context.Context) {
	if _, err := a.watcher.RunOnce(ctx); err != nil {
		a.logger.Warn("Follow-up sync failed", "error", err)
	}
}

// resultErr fails the command only when the hike could not be kept at all.
func resultErr(res core.StopResult) error {
	if res.Outcome == core.OutcomeFailed {
		return res.Err
	}
	return nil
}

func (a *app) printResult(res core.StopResult) {
	if res.Summary == nil {
		fmt.Fprintf(a.out, "Result: %s\n", res.Outcome)
		return
	}
	s := res.Summary
	fmt.Fprintf(a.out, "Result: %s\n  trail    %s\n  distance %d m\n  duration %ds\n  points   %d\n",
		res.Outcome, s.TrailID, s.DistanceM, s.DurationS, len(s.Points))
	if res.Err != nil && res.Outcome == core.OutcomeSavedLocal {
		fmt.Fprintf(a.out, "  reason   %v\n", res.Err)
	}
}
