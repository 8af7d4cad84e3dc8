package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"time"

	"github.com/jamiealquiza/tachymeter"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v3"
	"github.com/vaadin/flow-sub072/component"
	"github.com/vaadin/flow-sub072/eventbus"
	"github.com/vaadin/flow-sub072/reactive"
	"github.com/vaadin/flow-sub072/signals"
)

const (
	itersKey   = "iters"
	profileKey = "profile"
)

var (
	ww       = []int{1, 10, 100}
	hh       = []int{1, 10, 100}
	handlers = []int{1, 10, 100, 1_000}
	iters    = 100
)

func main() {
	cmd := &cli.Command{
		Name:  "benchmark",
		Usage: "Measure propagation and dispatch latency",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  itersKey,
				Usage: "Writes measured per row",
				Value: int64(iters),
			},
			&cli.StringFlag{
				Name:  profileKey,
				Usage: "Write a CPU profile to this file",
				Value: "default.pgo",
			},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	iters = int(cmd.Int(itersKey))

	if path := cmd.String(profileKey); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return err
		}
		defer pprof.StopCPUProfile()
	}

	log.Printf("warming up")
	benchmarkSignals(false)

	benchmarkSignals(true)
	benchmarkReactive(true)
	benchmarkEventBus(true)
	benchmarkComponentBus(true)
	return nil
}

func newTable(title string) table.Writer {
	tbl := table.NewWriter()
	tbl.SetTitle(title)
	tbl.SetOutputMirror(os.Stdout)
	tbl.AppendHeader(table.Row{"benchmark", "avg", "min", "p75", "p99", "max"})
	return tbl
}

func appendRow(tbl table.Writer, name string, tach *tachymeter.Tachymeter) {
	calc := tach.Calc()
	tbl.AppendRow(table.Row{
		name,
		calc.Time.Avg,
		calc.Time.Min,
		calc.Time.P75,
		calc.Time.P99,
		calc.Time.Max,
	})
}

func addOne(v int) int {
	return v + 1
}

func benchmarkSignals(shouldRender bool) {
	tbl := newTable("Signals")

	for _, w := range ww {
		for _, h := range hh {
			tach := tachymeter.New(&tachymeter.Config{Size: iters})

			rt := signals.NewRuntime(signals.WithErrorHandler(func(_ *signals.Effect, err error) {
				log.Panic(err)
			}))
			src := signals.NewValue(1)
			effects := make([]*signals.Effect, 0, w)
			for range w {
				var last signals.Signal[int] = src
				for range h {
					prev := last
					last = signals.Computed(func() int {
						return addOne(prev.Get())
					})
				}

				e, err := signals.NewEffect(rt, func(signals.EffectContext) error {
					last.Get()
					return nil
				})
				if err != nil {
					log.Panic(err)
				}
				effects = append(effects, e)
			}

			for range iters {
				start := time.Now()
				src.Set(src.Peek() + 1)
				tach.AddTime(time.Since(start))
			}
			for _, e := range effects {
				e.Close()
			}

			appendRow(tbl, fmt.Sprintf("propagate: %d * %d", w, h), tach)
		}
	}

	if shouldRender {
		tbl.Render()
	}
}

func benchmarkReactive(shouldRender bool) {
	tbl := newTable("Reactive engine")

	for _, w := range ww {
		for _, h := range hh {
			tach := tachymeter.New(&tachymeter.Config{Size: iters})

			r := reactive.New()
			src := reactive.NewProperty(r, 1)
			for range w {
				prev := src
				for range h {
					in, out := prev, reactive.NewProperty(r, 0)
					r.RunWhenDependenciesChange(func() {
						out.Set(addOne(in.Get()))
					})
					prev = out
				}
			}
			r.Flush()

			for range iters {
				start := time.Now()
				src.Set(src.Get() + 1)
				r.Flush()
				tach.AddTime(time.Since(start))
			}

			appendRow(tbl, fmt.Sprintf("propagate: %d * %d", w, h), tach)
		}
	}

	if shouldRender {
		tbl.Render()
	}
}

var tickType = eventbus.NewType("tick")

type tickEvent struct {
	eventbus.Base
}

func benchmarkEventBus(shouldRender bool) {
	tbl := newTable("Event bus")
	source := &struct{ name string }{"source"}

	for _, n := range handlers {
		tach := tachymeter.New(&tachymeter.Config{Size: iters})

		bus := eventbus.New()
		for i := range n {
			h := func(eventbus.Event) error { return nil }
			var err error
			if i%2 == 0 {
				_, err = bus.AddHandler(tickType, h)
			} else {
				_, err = bus.AddHandlerToSource(tickType, source, h)
			}
			if err != nil {
				log.Panic(err)
			}
		}

		ev := &tickEvent{Base: eventbus.NewBase(tickType)}
		for range iters {
			start := time.Now()
			if err := bus.FireEventFromSource(ev, source); err != nil {
				log.Panic(err)
			}
			tach.AddTime(time.Since(start))
		}

		appendRow(tbl, fmt.Sprintf("dispatch: %d handlers", n), tach)
	}

	if shouldRender {
		tbl.Render()
	}
}

type clickEvent struct {
	component.ComponentEvent `domevent:"click"`
	Button                   int     `eventdata:"event.button"`
	ClientX                  float64 `eventdata:"event.clientX"`
}

func benchmarkComponentBus(shouldRender bool) {
	tbl := newTable("Component events")
	domEvent := component.DomEvent{
		Type: "click",
		Data: map[string]json.RawMessage{
			"event.button":  json.RawMessage("1"),
			"event.clientX": json.RawMessage("42.5"),
		},
	}

	for _, n := range handlers {
		tach := tachymeter.New(&tachymeter.Config{Size: iters})

		c := component.NewComponent("button")
		bus := c.EventBus()
		for range n {
			if _, err := component.AddListener(bus, func(*clickEvent) {}); err != nil {
				log.Panic(err)
			}
		}

		for range iters {
			start := time.Now()
			if err := c.Element().Dispatch(domEvent); err != nil {
				log.Panic(err)
			}
			tach.AddTime(time.Since(start))
		}

		appendRow(tbl, fmt.Sprintf("dom click: %d listeners", n), tach)
	}

	if shouldRender {
		tbl.Render()
	}
}
