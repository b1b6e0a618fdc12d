package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"

	iudex "github.com/NicholasJacob1990/iudex"
)

// colorFormatter prints stage progress with color when attached to a tty.
type colorFormatter struct {
	stage *color.Color
	done  *color.Color
	fail  *color.Color
}

func newColorFormatter() *colorFormatter {
	return &colorFormatter{
		stage: color.New(color.FgCyan),
		done:  color.New(color.FgGreen),
		fail:  color.New(color.FgRed),
	}
}

func (f *colorFormatter) PrintStageStart(stage iudex.Stage) {
	f.stage.Printf("▶ %s\n", stage)
}

func (f *colorFormatter) PrintStageOutput(stage iudex.Stage, content any) {
	f.done.Printf("✔ %s", stage)
	if content != nil {
		fmt.Printf(" %v", content)
	}
	fmt.Println()
}

func (f *colorFormatter) PrintStageError(stage iudex.Stage, err error) {
	f.fail.Printf("✘ %s: %v\n", stage, err)
}

// formatterCallbacks bridges run callbacks to a PipelineFormatter.
type formatterCallbacks struct {
	iudex.BaseRunCallbacks
	formatter iudex.PipelineFormatter
}

func (c *formatterCallbacks) BeforeStage(ctx context.Context, event *iudex.StageEvent) {
	c.formatter.PrintStageStart(event.Stage)
}

func (c *formatterCallbacks) AfterStage(ctx context.Context, event *iudex.StageEvent) {
	if event.Error != nil {
		c.formatter.PrintStageError(event.Stage, event.Error)
		return
	}
	c.formatter.PrintStageOutput(event.Stage, event.Duration.Round(time.Millisecond))
}

func (c *formatterCallbacks) OnHILPause(ctx context.Context, event *iudex.HILEvent) {
	color.Yellow("⏸ paused for human review: %s", event.PauseReason)
}

func (c *formatterCallbacks) OnHILResume(ctx context.Context, event *iudex.HILEvent) {
	color.Yellow("⏵ resumed at %s", event.ResumeStage)
}
