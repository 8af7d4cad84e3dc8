package main

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/vaadin/flow-sub072/component"
	"github.com/vaadin/flow-sub072/signals"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// clickEvent is what the demo button listens to. A right click resets the
// counter, any other click increments it.
type clickEvent struct {
	component.ComponentEvent `domevent:"click"`
	Button                   int `eventdata:"event.button"`
	Detail                   int `eventdata:"event.detail"`
}

type listenMessage struct {
	Type      string   `json:"type"`
	Event     string   `json:"event"`
	EventData []string `json:"eventData"`
}

type renderMessage struct {
	Type       string `json:"type"`
	Count      int64  `json:"count"`
	Ticks      int64  `json:"ticks"`
	Initial    bool   `json:"initial"`
	Background bool   `json:"background"`
}

// session is one connected browser. Effects of a session only run on the
// goroutine executing run, which is also the only writer to conn.
type session struct {
	id     int64
	conn   *websocket.Conn
	logger *zap.Logger

	queue    *signals.QueueDispatcher
	wake     chan struct{}
	incoming chan component.DomEvent

	button *component.Component
	count  *signals.ValueSignal[int64]
	click  component.Registration
	render *signals.Effect
}

func (s *server) newSession(conn *websocket.Conn) (*session, error) {
	id := s.sessions.Add(1)
	sess := &session{
		id:       id,
		conn:     conn,
		logger:   s.logger.With(zap.Int64("session", id)),
		queue:    signals.NewQueueDispatcher(),
		wake:     make(chan struct{}, 1),
		incoming: make(chan component.DomEvent, s.cfg.Demo.QueueSize),
		button:   component.NewComponent("button"),
	}
	sess.count = signals.NewValue[int64](0,
		signals.WithName("count"),
		signals.WithSignalMetrics(s.metrics),
	)

	rt := signals.NewRuntime(
		signals.WithDispatcher(signals.DispatcherFunc(sess.dispatch)),
		signals.WithErrorHandler(func(e *signals.Effect, err error) {
			sess.logger.Warn("effect failed", zap.Stringer("effect", e), zap.Error(err))
		}),
		signals.WithLogger(sess.logger),
		signals.WithMetrics(s.metrics),
	)

	bus := component.BusFor(sess.button, component.WithLogger(sess.logger), component.WithMetrics(s.metrics))
	click, err := component.AddListener(bus, sess.onClick)
	if err != nil {
		return nil, errors.Wrap(err, "listening for clicks")
	}
	sess.click = click

	if err := sess.write(listenMessage{
		Type:      "listen",
		Event:     "click",
		EventData: sess.button.Element().EventData("click"),
	}); err != nil {
		click.Remove()
		return nil, err
	}

	render, err := signals.NewEffect(rt, func(ctx signals.EffectContext) error {
		return sess.write(renderMessage{
			Type:       "render",
			Count:      sess.count.Get(),
			Ticks:      s.ticks.Get(),
			Initial:    ctx.IsInitialRun(),
			Background: ctx.IsBackgroundChange(),
		})
	}, signals.WithEffectName("render"))
	if err != nil {
		click.Remove()
		return nil, errors.Wrap(err, "starting render effect")
	}
	sess.render = render
	return sess, nil
}

func (sess *session) dispatch(task func()) {
	sess.queue.Dispatch(task)
	select {
	case sess.wake <- struct{}{}:
	default:
	}
}

func (sess *session) onClick(e *clickEvent) {
	if e.Button == 2 {
		sess.count.Set(0)
		return
	}
	sess.count.Update(func(v int64) int64 {
		return v + 1
	})
}

func (sess *session) write(msg any) error {
	if err := sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return errors.Wrap(err, "setting write deadline")
	}
	return errors.Wrap(sess.conn.WriteJSON(msg), "writing message")
}

// run serves the session until the connection fails or ctx is done.
func (sess *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer sess.close()

	go sess.readLoop(ctx, cancel)
	sess.logger.Info("session started")

	for {
		select {
		case <-ctx.Done():
			return
		case de := <-sess.incoming:
			signals.RunInRequest(func() {
				if err := sess.button.Element().Dispatch(de); err != nil {
					sess.logger.Debug("dom event rejected", zap.String("type", de.Type), zap.Error(err))
				}
			})
			sess.queue.RunPending()
		case <-sess.wake:
			sess.queue.RunPending()
		}
	}
}

func (sess *session) readLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		var de component.DomEvent
		if err := sess.conn.ReadJSON(&de); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		select {
		case sess.incoming <- de:
		case <-ctx.Done():
			return
		}
	}
}

func (sess *session) close() {
	sess.render.Close()
	sess.click.Remove()
	sess.conn.Close()
	sess.logger.Info("session closed")
}
