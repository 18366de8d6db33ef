// Package demo replays the reference session scenarios against the
// simulated device backend and graph engine.
package demo

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tphakala/agm/internal/conf"
	"github.com/tphakala/agm/internal/device"
	"github.com/tphakala/agm/internal/errors"
	"github.com/tphakala/agm/internal/service"
	"github.com/tphakala/agm/internal/session"
)

// Devices names the catalog entries the scenarios run on
type Devices struct {
	Speaker uint32
	Mic     uint32
	ECRef   uint32
}

// DefaultDevices matches the embedded default catalog
func DefaultDevices() Devices {
	return Devices{Speaker: 1, Mic: 2, ECRef: 4}
}

// Command creates the demo command
func Command(settings *conf.Settings) *cobra.Command {
	devs := DefaultDevices()

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the playback, fan-out and echo reference scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings, devs, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Uint32Var(&devs.Speaker, "speaker", devs.Speaker, "Playback device id")
	cmd.Flags().Uint32Var(&devs.Mic, "mic", devs.Mic, "Second device id, used by the fan-out and capture scenarios")
	cmd.Flags().Uint32Var(&devs.ECRef, "ecref", devs.ECRef, "Echo reference device id")
	return cmd
}

type runner struct {
	ctx  context.Context
	pool *session.Pool
	w    io.Writer
	devs Devices
}

// Run executes every scenario in order on a fresh pool and stops at the
// first one that does not behave as expected
func Run(ctx context.Context, settings *conf.Settings, devs Devices, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := service.NewPool(settings, nil, nil)
	if err != nil {
		return err
	}

	r := &runner{ctx: ctx, pool: pool, w: w, devs: devs}
	scenarios := []struct {
		name string
		fn   func() error
	}{
		{"single device playback", r.playback},
		{"fan-out disconnect", r.fanOut},
		{"echo reference ordering", r.echoReference},
	}

	var runErr error
	for _, sc := range scenarios {
		fmt.Fprintf(w, "== %s\n", sc.name)
		if runErr = sc.fn(); runErr != nil {
			runErr = fmt.Errorf("scenario %q: %w", sc.name, runErr)
			break
		}
		fmt.Fprintln(w, "   ok")
	}
	return errors.Join(runErr, pool.Close(ctx))
}

func (r *runner) step(label string, fn func() error) error {
	err := fn()
	if err != nil {
		fmt.Fprintf(r.w, "   %-32s %v\n", label, err)
		return fmt.Errorf("%s: %w", label, err)
	}
	fmt.Fprintf(r.w, "   %-32s done\n", label)
	return nil
}

func (r *runner) newSession(id uint32, dir session.Direction, aifs ...uint32) (*session.Session, error) {
	s, err := r.pool.GetOrCreate(id)
	if err != nil {
		return nil, err
	}
	if err := s.SetConfig(r.ctx, session.StreamConfig{Direction: dir}); err != nil {
		return nil, err
	}
	for _, aif := range aifs {
		if err := s.ConnectAIF(r.ctx, aif, true); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (r *runner) device(id uint32) (*device.Device, error) {
	return r.pool.Registry().Get(id)
}

func expectState[T comparable](what string, got, want T) error {
	if got != want {
		return errors.Newf("%s is %v, want %v", what, got, want).
			Component("demo").
			Category(errors.CategoryState).
			Build()
	}
	return nil
}

// playback walks one session through its whole lifecycle on one device
func (r *runner) playback() error {
	s, err := r.newSession(1, session.Playback, r.devs.Speaker)
	if err != nil {
		return err
	}
	steps := []struct {
		label string
		fn    func(context.Context) error
	}{
		{"open", func(ctx context.Context) error { return s.Open(ctx, session.ModeDefault) }},
		{"prepare", s.Prepare},
		{"start", s.Start},
		{"stop", s.Stop},
		{"close", s.Close},
	}
	for _, st := range steps {
		if err := r.step(st.label, func() error { return st.fn(r.ctx) }); err != nil {
			return err
		}
	}

	d, err := r.device(r.devs.Speaker)
	if err != nil {
		return err
	}
	return errors.Join(
		expectState("session state", s.State(), session.StateClosed),
		expectState("speaker state", d.State(), device.StateClosed),
		expectState("speaker users", d.Users(), 0),
	)
}

// fanOut detaches the devices of a running two-device session one at a time
func (r *runner) fanOut() error {
	s, err := r.newSession(2, session.Playback, r.devs.Speaker, r.devs.Mic)
	if err != nil {
		return err
	}
	for _, st := range []struct {
		label string
		fn    func(context.Context) error
	}{
		{"open", func(ctx context.Context) error { return s.Open(ctx, session.ModeDefault) }},
		{"prepare", s.Prepare},
		{"start", s.Start},
	} {
		if err := r.step(st.label, func() error { return st.fn(r.ctx) }); err != nil {
			return err
		}
	}

	speaker, err := r.device(r.devs.Speaker)
	if err != nil {
		return err
	}
	mic, err := r.device(r.devs.Mic)
	if err != nil {
		return err
	}

	if err := r.step(fmt.Sprintf("detach device %d", r.devs.Speaker), func() error {
		return s.ConnectAIF(r.ctx, r.devs.Speaker, false)
	}); err != nil {
		return err
	}
	if err := errors.Join(
		expectState("detached device state", speaker.State(), device.StateClosed),
		expectState("sibling device state", mic.State(), device.StateStarted),
		expectState("session state", s.State(), session.StateStarted),
	); err != nil {
		return err
	}

	if err := r.step(fmt.Sprintf("detach device %d", r.devs.Mic), func() error {
		return s.ConnectAIF(r.ctx, r.devs.Mic, false)
	}); err != nil {
		return err
	}
	if err := errors.Join(
		expectState("last device state", mic.State(), device.StateClosed),
		expectState("graph kept", s.HasGraph(), true),
	); err != nil {
		return err
	}
	return r.step("close", func() error { return s.Close(r.ctx) })
}

// echoReference shows a capture session waiting for its reference device
func (r *runner) echoReference() error {
	capture, err := r.newSession(3, session.Capture, r.devs.Mic)
	if err != nil {
		return err
	}
	owner, err := r.newSession(4, session.Playback, r.devs.ECRef)
	if err != nil {
		return err
	}

	if err := r.step(fmt.Sprintf("request ec ref %d", r.devs.ECRef), func() error {
		return capture.SetECRef(r.ctx, r.devs.ECRef, true)
	}); err != nil {
		return err
	}
	if err := r.step("open capture", func() error { return capture.Open(r.ctx, session.ModeDefault) }); err != nil {
		return err
	}
	if err := r.step("open reference owner", func() error { return owner.Open(r.ctx, session.ModeDefault) }); err != nil {
		return err
	}

	err = capture.Start(r.ctx)
	if !errors.Is(err, session.ErrInvalidState) {
		return errors.Newf("capture start before reference start returned %v, want an invalid state error", err).
			Component("demo").
			Category(errors.CategoryState).
			Build()
	}
	fmt.Fprintf(r.w, "   %-32s refused: %v\n", "start capture", err)

	for _, st := range []struct {
		label string
		fn    func(context.Context) error
	}{
		{"start reference owner", owner.Start},
		{"start capture", capture.Start},
		{"close capture", capture.Close},
		{"close reference owner", owner.Close},
	} {
		if err := r.step(st.label, func() error { return st.fn(r.ctx) }); err != nil {
			return err
		}
	}
	return nil
}
