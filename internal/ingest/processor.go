package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/serenalabs/breath-engine/internal/estimator"
	"github.com/serenalabs/breath-engine/internal/metrics"
	"github.com/serenalabs/breath-engine/internal/model"
	"github.com/serenalabs/breath-engine/internal/session"
)

// derivationTimeout bounds one full estimate-persist-broadcast run.
const derivationTimeout = 30 * time.Second

// deriveDevice runs the estimator over the device's buffered ECG and
// emits resp_rr and guidance records for every beat above the
// watermark, plus one hr_derived per run. Runs are serialized per
// device; overlapping triggers are dropped.
func (s *Service) deriveDevice(slot *session.DeviceSession) {
	release, ok := slot.TryLockProcessing()
	if !ok {
		return
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), derivationTimeout)
	defer cancel()

	sess, ok := slot.Session()
	if !ok {
		return
	}

	samples, sizes, blockTS := slot.SnapshotECG()
	if len(sizes) < s.startThreshold {
		return
	}

	start := time.Now()
	res, err := estimator.Estimate(samples, s.sampleRate, sizes, blockTS, slot.Params())
	metrics.DerivationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, estimator.ErrInsufficientPeaks) {
			s.log.Debug().Str("device_id", slot.DeviceID).Int("samples", len(samples)).Msg("not enough beats yet")
		} else {
			s.log.Warn().Err(err).Str("device_id", slot.DeviceID).Msg("derivation failed")
		}
		return
	}

	records, maxTS := s.beatRecords(ctx, sess, res, slot.Watermark())
	if len(records) == 0 {
		return
	}

	if err := s.store.InsertSignals(ctx, records); err != nil {
		s.log.Error().Err(err).Str("session_id", sess.SessionID).Int("records", len(records)).
			Msg("derived batch insert failed")
		return
	}
	for _, rec := range records {
		metrics.SignalsPersisted.WithLabelValues(rec.Signal).Inc()
		s.hub.Broadcast(rec)
	}

	slot.AdvanceWatermark(maxTS)
	if err := s.store.AdvanceWatermark(ctx, sess.SessionID, maxTS); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.SessionID).Msg("watermark persist failed")
	}
}

// beatRecords converts estimator output into signal records: one
// resp_rr (plus optional guidance) per new beat, and a single
// hr_derived for the run.
func (s *Service) beatRecords(ctx context.Context, sess model.Session, res *estimator.Result, watermark int64) ([]model.SignalRecord, int64) {
	var (
		out   []model.SignalRecord
		maxTS = watermark
	)

	for k := range res.EstRR {
		est := res.EstRR[k]
		beatTS := res.TSPerBeat[k]
		if math.IsNaN(est) || math.IsNaN(beatTS) {
			continue
		}
		ts := int64(beatTS)
		if ts <= watermark {
			continue
		}
		if ts > maxTS {
			maxTS = ts
		}

		estV := est
		out = append(out, model.SignalRecord{
			DeviceID:  sess.DeviceID,
			SessionID: sess.SessionID,
			Signal:    model.SignalRespRR,
			TS:        ts,
			DT:        model.FormatDT(ts),
			EstRR:     &estV,
			Tijd:      res.Tijd[k],
			Inhale:    res.Inhale[k],
			Exhale:    res.Exhale[k],
		})

		if g := s.guidanceRecord(ctx, sess, ts, est); g != nil {
			out = append(out, *g)
		}
	}

	if hr := s.heartRateRecord(sess, res, watermark); hr != nil {
		out = append(out, *hr)
		if hr.TS > maxTS {
			maxTS = hr.TS
		}
	}
	return out, maxTS
}

func (s *Service) guidanceRecord(ctx context.Context, sess model.Session, ts int64, est float64) *model.SignalRecord {
	if sess.TargetRR <= 0 {
		return nil
	}
	g := s.fb.Evaluate(ctx, sess.SessionID, sess.TargetRR, est)
	if g.Text == "" {
		return nil
	}

	audio := g.AudioText
	if g.Color == "accent" {
		if instr := breathInstruction(sess.TechniqueName, s.registry.Get(sess.DeviceID).Cycle()); instr != "" {
			if audio != "" {
				audio = audio + "... " + instr
			} else {
				audio = instr
			}
		}
	}

	target, actual := sess.TargetRR, est
	return &model.SignalRecord{
		DeviceID:  sess.DeviceID,
		SessionID: sess.SessionID,
		Signal:    model.SignalGuidance,
		TS:        ts,
		DT:        model.FormatDT(ts),
		Text:      g.Text,
		Color:     g.Color,
		AudioText: audio,
		Target:    &target,
		Actual:    &actual,
	}
}

// heartRateRecord emits one heart rate per derivation run, taken from
// the newest valid RR interval and timestamped at the beat that closes
// it. A run whose newest interval was already covered by the watermark
// emits nothing.
func (s *Service) heartRateRecord(sess model.Session, res *estimator.Result, watermark int64) *model.SignalRecord {
	for k := len(res.RRms) - 1; k >= 0; k-- {
		rr := res.RRms[k]
		if math.IsNaN(rr) || rr <= 0 {
			continue
		}
		bpm := 60000 / rr
		if bpm < 30 || bpm > 240 {
			continue
		}

		tsIdx := k + 1
		if tsIdx >= len(res.TSPerBeat) {
			tsIdx = len(res.TSPerBeat) - 1
		}
		beatTS := res.TSPerBeat[tsIdx]
		if math.IsNaN(beatTS) {
			beatTS = res.TSPerBeat[k]
		}
		if math.IsNaN(beatTS) {
			continue
		}
		ts := int64(beatTS)
		if ts <= watermark {
			return nil
		}

		return &model.SignalRecord{
			DeviceID:  sess.DeviceID,
			SessionID: sess.SessionID,
			Signal:    model.SignalHRDerived,
			TS:        ts,
			DT:        model.FormatDT(ts),
			BPM:       &bpm,
		}
	}
	return nil
}

// breathInstruction renders the spoken pacing line for a technique,
// e.g. "Box... Adem 4 seconden in, hou 4 seconden vast, adem 4
// seconden uit, hou 4 seconden vast." Hold phases of zero seconds are
// left out.
func breathInstruction(technique string, c model.BreathCycle) string {
	if c.In <= 0 || c.Out <= 0 {
		return ""
	}

	name := technique
	if i := strings.Index(name, "("); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSpace(name)

	parts := []string{fmt.Sprintf("Adem %d seconden in", c.In)}
	if c.Hold1 > 0 {
		parts = append(parts, fmt.Sprintf("hou %d seconden vast", c.Hold1))
	}
	parts = append(parts, fmt.Sprintf("adem %d seconden uit", c.Out))
	if c.Hold2 > 0 {
		parts = append(parts, fmt.Sprintf("hou %d seconden vast", c.Hold2))
	}

	line := strings.Join(parts, ", ") + "."
	if name == "" {
		return line
	}
	return name + "... " + line
}
