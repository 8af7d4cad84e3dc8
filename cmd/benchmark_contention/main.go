package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"github.com/vaadin/flow-sub072/signals"
	"golang.org/x/sync/errgroup"
)

const (
	writesKey  = "writes"
	repeatsKey = "repeats"
)

type contentionConfig struct {
	name    string
	writers int
	write   func(s *signals.ValueSignal[int64], attempts *atomic.Int64) error
}

func main() {
	cmd := &cli.Command{
		Name:  "benchmark_contention",
		Usage: "Measure concurrent writers on a single signal",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  writesKey,
				Usage: "Writes per writer goroutine",
				Value: 10_000,
			},
			&cli.IntFlag{
				Name:  repeatsKey,
				Usage: "Runs per config, the fastest is reported",
				Value: 3,
			},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func update(s *signals.ValueSignal[int64], attempts *atomic.Int64) error {
	_, err := s.Update(func(v int64) int64 {
		attempts.Add(1)
		return v + 1
	}).Result()
	return err
}

func replaceLoop(s *signals.ValueSignal[int64], attempts *atomic.Int64) error {
	for {
		attempts.Add(1)
		v := s.Peek()
		_, err := s.Replace(v, v+1).Result()
		if err == nil {
			return nil
		}
		if !errors.Is(err, signals.ErrValueMismatch) {
			return err
		}
	}
}

func transactionReplace(s *signals.ValueSignal[int64], attempts *atomic.Int64) error {
	for {
		attempts.Add(1)
		err := signals.RunInTransaction(func() error {
			v := s.Peek()
			s.Replace(v, v+1)
			return nil
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, signals.ErrTransactionAborted) {
			return err
		}
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	log.Print("Starting contention benchmark, please wait...")
	defer log.Print("Finished contention benchmark")

	writes := cmd.Int(writesKey)
	repeats := int(cmd.Int(repeatsKey))

	var cfgs []contentionConfig
	for _, writers := range []int{1, 2, 4, 8, 16} {
		cfgs = append(cfgs,
			contentionConfig{name: "update", writers: writers, write: update},
			contentionConfig{name: "replace loop", writers: writers, write: replaceLoop},
			contentionConfig{name: "transaction", writers: writers, write: transactionReplace},
		)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{
		"strategy", "writers", "writes", "attempts", "retry%", "time", "writes/ms",
	})

	for _, cfg := range cfgs {
		log.Printf("Running '%s' with %d writers", cfg.name, cfg.writers)
		best := time.Duration(1<<63 - 1)
		var bestAttempts int64

		for range repeats {
			s := signals.NewValue[int64](0)
			var attempts atomic.Int64

			g, _ := errgroup.WithContext(ctx)
			start := time.Now()
			for range cfg.writers {
				g.Go(func() error {
					for range writes {
						if err := cfg.write(s, &attempts); err != nil {
							return err
						}
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			duration := time.Since(start)

			expected := writes * int64(cfg.writers)
			if got := s.Peek(); got != expected {
				return errors.Errorf("%s with %d writers lost writes: got %d, want %d", cfg.name, cfg.writers, got, expected)
			}
			if duration < best {
				best = duration
				bestAttempts = attempts.Load()
			}
		}

		total := writes * int64(cfg.writers)
		retries := 100 * float64(bestAttempts-total) / float64(bestAttempts)
		rate := float64(total) / (float64(best) / float64(time.Millisecond))

		table.Append([]string{
			cfg.name,
			fmt.Sprint(cfg.writers),
			humanize.Comma(total),
			humanize.Comma(bestAttempts),
			fmt.Sprintf("%0.2f", retries),
			fmt.Sprint(best),
			humanize.Comma(int64(rate)),
		})
	}
	table.Render()
	return nil
}
