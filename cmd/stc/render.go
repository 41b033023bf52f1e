package main

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/rikkisnah/stc/internal/client"
	"github.com/rikkisnah/stc/internal/events"
	"github.com/rikkisnah/stc/pkg/models"
)

// progressView draws the step cursor as a progress bar and echoes command
// output above it.
type progressView struct {
	tracker *client.Tracker
	bar     *progressbar.ProgressBar
	out     io.Writer
	quiet   bool
}

func newProgressView(tracker *client.Tracker, out io.Writer, quiet bool) *progressView {
	_, total := tracker.Progress()
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("Starting"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)
	v := &progressView{tracker: tracker, bar: bar, out: out, quiet: quiet}
	v.sync()
	return v
}

func (v *progressView) render(ev events.Event) {
	switch ev.Type {
	case events.TypeCommandStart:
		v.print("> %s\n", ev.Command)
	case events.TypeStdout, events.TypeStderr:
		if !v.quiet {
			v.print("%s\n", ev.Line)
		}
	}
	v.sync()
}

// sync moves the bar to the tracker's cursor
func (v *progressView) sync() {
	done, _ := v.tracker.Progress()
	state := v.tracker.State()
	desc := "Waiting"
	for i, s := range state.PipelineStatus {
		if s == models.StepRunning && i < len(client.Steps) {
			desc = client.Steps[i].Name
			break
		}
	}
	v.bar.Describe(desc)
	_ = v.bar.Set(done)
}

func (v *progressView) print(format string, args ...any) {
	_ = v.bar.Clear()
	fmt.Fprintf(v.out, format, args...)
	_ = v.bar.RenderBlank()
}

func (v *progressView) finish() {
	_ = v.bar.Finish()
}
