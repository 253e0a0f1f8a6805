// Package ingest accepts raw wearable records over HTTP, MQTT, or spool
// files, manages the session lifecycle driven by BreathTarget records,
// and triggers respiratory-rate derivation over the buffered ECG.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/serenalabs/breath-engine/internal/database"
	"github.com/serenalabs/breath-engine/internal/feedback"
	"github.com/serenalabs/breath-engine/internal/metrics"
	"github.com/serenalabs/breath-engine/internal/model"
	"github.com/serenalabs/breath-engine/internal/session"
	"github.com/serenalabs/breath-engine/internal/stream"
)

// Store is the persistence surface the ingest path needs. *database.DB
// implements it.
type Store interface {
	UpsertDevice(ctx context.Context, deviceID, name, deviceType string) error
	ActiveSession(ctx context.Context, deviceID string) (model.Session, error)
	CreateSession(ctx context.Context, s model.Session) error
	EndSession(ctx context.Context, sessionID string, endedAt time.Time, status string) error
	UpdateSessionTarget(ctx context.Context, sessionID string, targetRR float64, technique string) error
	AdvanceWatermark(ctx context.Context, sessionID string, ts int64) error
	InsertSignal(ctx context.Context, rec model.SignalRecord) error
	InsertSignals(ctx context.Context, recs []model.SignalRecord) error
	GetTechnique(ctx context.Context, name string) (model.Technique, error)
	GetParameterSet(ctx context.Context, version string) (model.ParameterSet, error)
}

// maxLineBytes bounds a single NDJSON line (an ECG block with a couple
// hundred samples fits comfortably).
const maxLineBytes = 1 << 20

// ErrStorage marks persistence failures, so transports can answer with
// a server error instead of blaming the payload.
var ErrStorage = errors.New("storage failure")

// Options tunes a Service.
type Options struct {
	// SampleRate is the ECG sample rate in Hz.
	SampleRate float64
	// StartThreshold is the number of buffered blocks required before
	// the first derivation run.
	StartThreshold int
	// BatchSize and BatchInterval control ECG write batching.
	BatchSize     int
	BatchInterval time.Duration
}

// Service is the ingest front door shared by every transport.
type Service struct {
	store    Store
	registry *session.Registry
	hub      *stream.Hub
	fb       *feedback.Generator
	log      zerolog.Logger

	sampleRate     float64
	startThreshold int

	now   func() time.Time
	newID func() string

	// onSessionEnd, when set, runs in its own goroutine after a session
	// is marked completed.
	onSessionEnd func(sessionID string)

	ecgBatch *Batcher[model.SignalRecord]

	// flushErr carries the last failed background flush until the next
	// ECG ingest surfaces it.
	flushMu  sync.Mutex
	flushErr error
}

// SetSessionEndHook installs a callback invoked after every completed
// session, for post-processing such as archival. Set it before the
// service starts receiving traffic.
func (s *Service) SetSessionEndHook(fn func(sessionID string)) {
	s.onSessionEnd = fn
}

// NewService wires the ingest path together.
func NewService(store Store, registry *session.Registry, hub *stream.Hub, fb *feedback.Generator, opts Options, log zerolog.Logger) *Service {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 130.0
	}
	if opts.StartThreshold <= 0 {
		opts.StartThreshold = 20
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = 500 * time.Millisecond
	}

	s := &Service{
		store:          store,
		registry:       registry,
		hub:            hub,
		fb:             fb,
		log:            log.With().Str("component", "ingest").Logger(),
		sampleRate:     opts.SampleRate,
		startThreshold: opts.StartThreshold,
		now:            time.Now,
		newID:          uuid.NewString,
	}
	s.ecgBatch = NewBatcher(opts.BatchSize, opts.BatchInterval, s.flushECG)
	return s
}

// Close flushes pending writes, then waits until every in-flight
// derivation run has released its device.
func (s *Service) Close() {
	s.ecgBatch.Stop()
	for _, slot := range s.registry.All() {
		release := slot.LockProcessing()
		release()
	}
}

func (s *Service) flushECG(recs []model.SignalRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.InsertSignals(ctx, recs); err != nil {
		s.log.Error().Err(err).Int("records", len(recs)).Msg("ecg batch insert failed")
		s.flushMu.Lock()
		s.flushErr = err
		s.flushMu.Unlock()
		return
	}
	metrics.SignalsPersisted.WithLabelValues(model.SignalECG).Add(float64(len(recs)))
}

// takeFlushError consumes the last background flush failure, if any.
func (s *Service) takeFlushError() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	err := s.flushErr
	s.flushErr = nil
	return err
}

// Result summarizes one ingest call. SessionID is null until a record
// in the batch was tagged with a session.
type Result struct {
	Accepted  int     `json:"accepted"`
	SessionID *string `json:"session_id"`
}

// IngestBody consumes a request body: NDJSON when the content type says
// so, otherwise a single JSON object or a JSON array. Malformed NDJSON
// lines are logged and skipped; a malformed JSON body is an error.
func (s *Service) IngestBody(ctx context.Context, body io.Reader, contentType string) (Result, error) {
	if strings.Contains(contentType, "ndjson") {
		return s.ingestNDJSON(ctx, body)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return Result{}, fmt.Errorf("read body: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return Result{}, nil
	}

	var raws []model.RawRecord
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &raws); err != nil {
			return Result{}, fmt.Errorf("parse record array: %w", err)
		}
	} else {
		var one model.RawRecord
		if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
			return Result{}, fmt.Errorf("parse record: %w", err)
		}
		raws = append(raws, one)
	}

	var res Result
	for i := range raws {
		rec := raws[i].Canonical(s.now())
		if err := s.IngestRecord(ctx, &rec); err != nil {
			if errors.Is(err, ErrStorage) {
				return res, err
			}
			s.log.Warn().Err(err).Str("signal", rec.Signal).Msg("record rejected")
			continue
		}
		res.Accepted++
		if rec.SessionID != "" {
			id := rec.SessionID
			res.SessionID = &id
		}
	}
	return res, nil
}

func (s *Service) ingestNDJSON(ctx context.Context, body io.Reader) (Result, error) {
	var res Result
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var raw model.RawRecord
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			s.log.Warn().Err(err).Int("line", line).Msg("skipping malformed ndjson line")
			continue
		}
		rec := raw.Canonical(s.now())
		if err := s.IngestRecord(ctx, &rec); err != nil {
			if errors.Is(err, ErrStorage) {
				return res, err
			}
			s.log.Warn().Err(err).Int("line", line).Str("signal", rec.Signal).Msg("record rejected")
			continue
		}
		res.Accepted++
		if rec.SessionID != "" {
			id := rec.SessionID
			res.SessionID = &id
		}
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("read ndjson stream: %w", err)
	}
	return res, nil
}

// IngestRecord runs one canonical record through validation, the
// session lifecycle, persistence, fan-out, and (for ECG) derivation.
// The record's SessionID is filled in as a side effect.
func (s *Service) IngestRecord(ctx context.Context, rec *model.SignalRecord) error {
	if err := rec.Validate(); err != nil {
		metrics.RecordsRejected.Inc()
		return err
	}

	if err := s.store.UpsertDevice(ctx, rec.DeviceID, "", ""); err != nil {
		return fmt.Errorf("upsert device %s: %w: %w", rec.DeviceID, ErrStorage, err)
	}

	slot := s.registry.Get(rec.DeviceID)

	if rec.Signal == model.SignalBreathTarget {
		if err := s.handleBreathTarget(ctx, rec, slot); err != nil {
			return err
		}
	} else {
		sess, ok := slot.Session()
		if !ok {
			if sess, ok = s.hydrateSession(ctx, slot); !ok {
				sess = model.Session{}
			}
		}
		rec.SessionID = sess.SessionID
	}

	if rec.Signal == model.SignalECG {
		// a failed background flush fails the next ECG write so the
		// sender learns about the loss
		if err := s.takeFlushError(); err != nil {
			return fmt.Errorf("ecg batch flush: %w: %w", ErrStorage, err)
		}
		s.ecgBatch.Add(*rec)
	} else if err := s.store.InsertSignal(ctx, *rec); err != nil {
		return fmt.Errorf("persist %s record: %w: %w", rec.Signal, ErrStorage, err)
	} else {
		metrics.SignalsPersisted.WithLabelValues(rec.Signal).Inc()
	}

	metrics.RecordsIngested.WithLabelValues(rec.Signal).Inc()
	s.hub.Broadcast(*rec)

	if rec.Signal == model.SignalECG && rec.SessionID != "" {
		blocks := slot.AppendECG(rec.Samples, rec.TS)
		if blocks >= s.startThreshold {
			go s.deriveDevice(slot)
		}
	}
	return nil
}

// hydrateSession restores a device slot from the store after a restart:
// the session row survives, the in-memory buffer does not.
func (s *Service) hydrateSession(ctx context.Context, slot *session.DeviceSession) (model.Session, bool) {
	sess, err := s.store.ActiveSession(ctx, slot.DeviceID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			s.log.Warn().Err(err).Str("device_id", slot.DeviceID).Msg("active session lookup failed")
		}
		return model.Session{}, false
	}

	params := s.paramsFor(ctx, sess.ParamVersion)
	cycle := s.cycleFor(ctx, sess.TechniqueName, nil)
	slot.StartSession(sess, params, cycle)
	s.log.Info().
		Str("device_id", slot.DeviceID).
		Str("session_id", sess.SessionID).
		Msg("active session restored from store")
	return sess, true
}

// handleBreathTarget drives the session lifecycle: a positive TargetRR
// starts or retunes a session, zero ends it.
func (s *Service) handleBreathTarget(ctx context.Context, rec *model.SignalRecord, slot *session.DeviceSession) error {
	var target float64
	if rec.TargetRR != nil {
		target = *rec.TargetRR
	}

	if target <= 0 {
		return s.endSession(ctx, rec, slot)
	}

	sess, ok := slot.Session()
	if !ok {
		sess, ok = s.hydrateSession(ctx, slot)
	}
	if ok {
		slot.UpdateTarget(target, rec.Technique, s.cycleFor(ctx, rec.Technique, rec.BreathCycle))
		// A technique switch can carry its own parameter version.
		if rec.Technique != "" && rec.Technique != sess.TechniqueName {
			if t, err := s.store.GetTechnique(ctx, rec.Technique); err == nil &&
				t.ParamVersion != "" && t.ParamVersion != sess.ParamVersion {
				slot.ActivateParams(t.ParamVersion, s.paramsFor(ctx, t.ParamVersion))
			}
		}
		if err := s.store.UpdateSessionTarget(ctx, sess.SessionID, target, rec.Technique); err != nil {
			return fmt.Errorf("update session target: %w: %w", ErrStorage, err)
		}
		rec.SessionID = sess.SessionID
		s.log.Info().
			Str("session_id", sess.SessionID).
			Float64("target_rr", target).
			Str("technique", rec.Technique).
			Msg("session target updated")
		return nil
	}

	return s.startSession(ctx, rec, slot, target)
}

func (s *Service) startSession(ctx context.Context, rec *model.SignalRecord, slot *session.DeviceSession, target float64) error {
	// resolution order: explicit version on the record, then the
	// technique's pinned version, then the default
	paramVersion := rec.ActiveParamVersion
	if paramVersion == "" && rec.Technique != "" {
		if t, err := s.store.GetTechnique(ctx, rec.Technique); err == nil {
			paramVersion = t.ParamVersion
		}
	}
	if paramVersion == "" {
		paramVersion = model.DefaultParamVersion
	}

	sess := model.Session{
		SessionID:     s.newID(),
		DeviceID:      rec.DeviceID,
		StartedAt:     time.UnixMilli(rec.TS),
		TechniqueName: rec.Technique,
		ParamVersion:  paramVersion,
		TargetRR:      target,
		Status:        model.SessionActive,
	}

	err := s.store.CreateSession(ctx, sess)
	if errors.Is(err, database.ErrActiveSessionExists) {
		// lost a race with a concurrent start; fall back to the winner
		if existing, ok := s.hydrateSession(ctx, slot); ok {
			rec.SessionID = existing.SessionID
			return nil
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("create session: %w: %w", ErrStorage, err)
	}

	slot.StartSession(sess, s.paramsFor(ctx, paramVersion), s.cycleFor(ctx, rec.Technique, rec.BreathCycle))
	rec.SessionID = sess.SessionID
	metrics.SessionsStarted.Inc()
	s.log.Info().
		Str("device_id", rec.DeviceID).
		Str("session_id", sess.SessionID).
		Float64("target_rr", target).
		Str("technique", rec.Technique).
		Msg("session started")
	return nil
}

func (s *Service) endSession(ctx context.Context, rec *model.SignalRecord, slot *session.DeviceSession) error {
	sessionID := slot.EndSession()
	if sessionID == "" {
		if sess, err := s.store.ActiveSession(ctx, rec.DeviceID); err == nil {
			sessionID = sess.SessionID
			slot.ClearECG()
		}
	}
	if sessionID == "" {
		// nothing active; the end record is persisted without a session
		return nil
	}
	slot.ResetParams()

	if err := s.store.EndSession(ctx, sessionID, time.UnixMilli(rec.TS), model.SessionCompleted); err != nil && !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("end session %s: %w: %w", sessionID, ErrStorage, err)
	}
	s.fb.Reset(sessionID)
	metrics.SessionsEnded.Inc()
	if s.onSessionEnd != nil {
		go s.onSessionEnd(sessionID)
	}
	// end records carry no session id so clients see a clean break
	rec.SessionID = ""
	s.log.Info().Str("session_id", sessionID).Str("device_id", rec.DeviceID).Msg("session ended")
	return nil
}

func (s *Service) paramsFor(ctx context.Context, version string) model.ParameterSet {
	if version == "" {
		version = model.DefaultParamVersion
	}
	params, err := s.store.GetParameterSet(ctx, version)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			s.log.Warn().Err(err).Str("version", version).Msg("parameter set load failed, using defaults")
		}
		return model.DefaultParameters()
	}
	return params
}

// cycleFor resolves the breath cycle: an explicit cycle on the record
// wins, then the technique's protocol, then nothing.
func (s *Service) cycleFor(ctx context.Context, technique string, explicit *model.BreathCycle) model.BreathCycle {
	if explicit != nil {
		return *explicit
	}
	if technique == "" {
		return model.BreathCycle{}
	}
	t, err := s.store.GetTechnique(ctx, technique)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			s.log.Warn().Err(err).Str("technique", technique).Msg("technique load failed")
		}
		return model.BreathCycle{}
	}
	for _, row := range t.Protocol {
		if row[0]+row[1]+row[2]+row[3] > 0 {
			return row.Cycle()
		}
	}
	return model.BreathCycle{}
}
