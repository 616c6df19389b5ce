package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assistd/internal/logging"
	"github.com/fyrsmithlabs/assistd/internal/runs"
)

// startSSE writes the event-stream headers and commits the response.
func startSSE(c echo.Context) *echo.Response {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()
	return w
}

// writeEvent writes one SSE frame whose data is v as JSON.
func writeEvent(w *echo.Response, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func writeHeartbeat(w *echo.Response) error {
	if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// eventStream writes run events in sequence order, skipping any already sent.
type eventStream struct {
	w    *echo.Response
	sent uint64
}

// send writes evs and reports whether the terminal snapshot went out.
func (st *eventStream) send(evs []runs.Event) (terminal bool, err error) {
	for _, ev := range evs {
		if ev.Seq <= st.sent {
			continue
		}
		if err := writeEvent(st.w, ev.Snapshot.Node.String(), ev); err != nil {
			return false, err
		}
		st.sent = ev.Seq
		if ev.Snapshot.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

// handleStream drives a run inline and streams every snapshot. The run is
// bound to the request context, so a client disconnect stops it before the
// next stage.
//
//	POST /api/v1/runs/stream
//
//	event: planner
//	data: {"seq":1,"run_id":"...","snapshot":{"current_node":"planner",...}}
//
//	event: end
//	data: {"seq":5,"run_id":"...","snapshot":{"current_node":"end",...}}
func (s *Server) handleStream(c echo.Context) error {
	req, err := s.bindRun(c)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	ctx := logging.WithRunID(c.Request().Context(), id)
	defer s.metrics.streamStarted(ctx, "/api/v1/runs/stream")()

	s.logger.Info(ctx, "inline run started", zap.String("model", req.ModelID))
	w := startSSE(c)

	var seq uint64
	for snap := range s.runner.Run(ctx, req.Question, req.ModelID) {
		if n := runs.Scrub(s.scrubber, &snap); n > 0 {
			s.logger.Warn(ctx, "redacted secrets from snapshot", zap.Int("findings", n))
		}
		seq++
		ev := runs.Event{Seq: seq, RunID: id, At: time.Now(), Snapshot: snap}
		if err := writeEvent(w, snap.Node.String(), ev); err != nil {
			// Leaving the loop stops the iterator and with it the run.
			s.logger.Debug(ctx, "stream client gone", zap.Error(err))
			return nil
		}
	}
	s.logger.Info(ctx, "inline run finished", zap.Uint64("snapshots", seq))
	return nil
}

// handleEvents replays a background run's stored snapshots and then follows
// it live until the terminal snapshot.
//
//	GET /api/v1/runs/:id/events
func (s *Server) handleEvents(c echo.Context) error {
	run, err := s.lookup(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	defer s.metrics.streamStarted(ctx, "/api/v1/runs/:id/events")()

	// Subscribe before replaying so nothing published in between is lost.
	var live chan *nats.Msg
	if s.nc != nil {
		live = make(chan *nats.Msg, 64)
		sub, err := s.nc.ChanSubscribe(runs.RunSubjects(s.runs.SubjectPrefix(), run.ID()), live)
		if err != nil {
			s.logger.Warn(ctx, "nats subscribe failed, following registry", zap.Error(err))
			live = nil
		} else {
			defer func() {
				_ = sub.Unsubscribe()
			}()
		}
	}

	st := &eventStream{w: startSSE(c)}
	if done, err := st.send(run.EventsAfter(0)); done || err != nil {
		return nil
	}

	if live != nil {
		s.followNATS(ctx, run, st, live)
	} else {
		s.followRegistry(ctx, run, st)
	}
	return nil
}

func (s *Server) followNATS(ctx context.Context, run *runs.Run, st *eventStream, live <-chan *nats.Msg) {
	ticker := time.NewTicker(s.config.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-live:
			var ev runs.Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				s.logger.Warn(ctx, "undecodable run event", zap.String("subject", msg.Subject), zap.Error(err))
				continue
			}
			batch := []runs.Event{ev}
			if ev.Seq > st.sent+1 {
				// Stored events always precede their publish, so the
				// registry can fill any gap.
				batch = run.EventsAfter(st.sent)
			}
			if done, err := st.send(batch); done || err != nil {
				return
			}

		case <-run.Done():
			_, _ = st.send(run.EventsAfter(st.sent))
			return

		case <-ticker.C:
			if err := writeHeartbeat(st.w); err != nil {
				return
			}
		}
	}
}

func (s *Server) followRegistry(ctx context.Context, run *runs.Run, st *eventStream) {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, s.config.Heartbeat)
		evs, finished, err := run.Next(waitCtx, st.sent)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if err := writeHeartbeat(st.w); err != nil {
				return
			}
			continue
		}
		if done, err := st.send(evs); done || err != nil || finished {
			return
		}
	}
}
