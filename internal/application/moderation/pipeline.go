package moderation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	appPenalty "github.com/OrsiniBr/DoTrust/internal/application/penalty"
	"github.com/OrsiniBr/DoTrust/internal/domain/message"
	"github.com/OrsiniBr/DoTrust/internal/domain/moderation"
	"github.com/OrsiniBr/DoTrust/internal/domain/stake"
	"github.com/OrsiniBr/DoTrust/internal/infrastructure/metrics"
)

// Penalizer applies deductions. Implemented by the penalty service.
type Penalizer interface {
	ApplyPenalty(ctx context.Context, in appPenalty.Input) (*appPenalty.Result, error)
}

// Config sizes the pipeline.
type Config struct {
	Workers           int
	QueueSize         int
	ClassifierTimeout time.Duration
}

// Outcome is what processing one job did.
type Outcome struct {
	Verdict   *moderation.Verdict
	Points    int
	Applied   bool
	Forfeited bool
	Skipped   string
}

// Pipeline reviews accepted messages off the request path and feeds the
// penalty engine. A classifier failure never penalizes.
type Pipeline struct {
	classifier moderation.Classifier
	messages   message.Store
	sessions   stake.Repository
	penalizer  Penalizer
	cfg        Config
	jobs       chan moderation.Job
	wg         sync.WaitGroup
	stopOnce   sync.Once
	cancel     context.CancelFunc
	logger     zerolog.Logger
	now        func() time.Time
}

func NewPipeline(
	classifier moderation.Classifier,
	messages message.Store,
	sessions stake.Repository,
	penalizer Penalizer,
	cfg Config,
	logger zerolog.Logger,
) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	return &Pipeline{
		classifier: classifier,
		messages:   messages,
		sessions:   sessions,
		penalizer:  penalizer,
		cfg:        cfg,
		jobs:       make(chan moderation.Job, cfg.QueueSize),
		logger:     logger.With().Str("service", "moderation").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the workers. They exit when ctx is done or Stop is called.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info().Int("workers", p.cfg.Workers).Int("queue", p.cfg.QueueSize).Msg("moderation pipeline started")
}

// Enqueue never blocks. A full queue drops the job.
func (p *Pipeline) Enqueue(job moderation.Job) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		metrics.ModerationDropped.Inc()
		p.logger.Warn().Str("message_id", job.MessageID).Msg("moderation queue full, job dropped")
		return false
	}
}

// Stop cancels the workers and waits for them. Queued jobs are abandoned.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
	p.wg.Wait()
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			if _, err := p.Process(ctx, job); err != nil {
				p.logger.Warn().Err(err).Int("worker", id).Str("message_id", job.MessageID).Msg("moderation job failed")
			}
		}
	}
}

// Process reviews a single message synchronously.
func (p *Pipeline) Process(ctx context.Context, job moderation.Job) (*Outcome, error) {
	msg, err := p.messages.Get(ctx, job.MessageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return &Outcome{Skipped: "message not found"}, nil
	}
	if msg.PenaltyApplied || msg.Analysis != nil {
		return &Outcome{Skipped: "already reviewed"}, nil
	}

	history, err := p.messages.ListBefore(ctx, job.Sender, job.Receiver, msg.CreatedAt, message.HistoryLimit)
	if err != nil {
		p.logger.Warn().Err(err).Str("message_id", job.MessageID).Msg("history unavailable, classifying without context")
		history = nil
	}

	verdict := p.classify(ctx, message.BuildRequest(msg, history))
	points := moderation.DerivePoints(verdict)
	verdict.PointsToDeduct = points
	out := &Outcome{Verdict: verdict, Points: points}

	if points > 0 {
		if reason := p.stale(ctx, job); reason != "" {
			out.Skipped = reason
		} else {
			pair, err := stake.CanonicalPair(job.Sender, job.Receiver)
			if err != nil {
				return out, err
			}
			messageID := job.MessageID
			res, err := p.penalizer.ApplyPenalty(ctx, appPenalty.Input{
				Pair:      pair,
				Offender:  job.Sender,
				Points:    points,
				Reason:    verdict.Reasoning,
				MessageID: &messageID,
			})
			if err != nil {
				p.saveAnalysis(ctx, job.MessageID, verdict, 0, false)
				return out, err
			}
			out.Applied = true
			out.Forfeited = res.Forfeited
		}
	}

	deduction := 0
	if out.Applied {
		deduction = points
	}
	p.saveAnalysis(ctx, job.MessageID, verdict, deduction, out.Applied)
	return out, nil
}

func (p *Pipeline) classify(ctx context.Context, req moderation.Request) *moderation.Verdict {
	if p.cfg.ClassifierTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ClassifierTimeout)
		defer cancel()
	}
	start := time.Now()
	verdict, err := p.classifier.Classify(ctx, req)
	metrics.ClassifierLatency.Observe(time.Since(start).Seconds())
	if err != nil || verdict == nil {
		metrics.ClassifierFailures.Inc()
		p.logger.Warn().Err(err).Msg("classifier failed, using neutral verdict")
		return moderation.NeutralVerdict(p.now())
	}
	return verdict
}

// stale reports why a penalty must not be applied, or "" if the session is live.
func (p *Pipeline) stale(ctx context.Context, job moderation.Job) string {
	pair, err := stake.CanonicalPair(job.Sender, job.Receiver)
	if err != nil {
		return "invalid pair"
	}
	sess, err := p.sessions.GetByPair(ctx, pair)
	switch {
	case err != nil:
		return "session lookup failed"
	case sess == nil:
		return "session not found"
	case sess.IsEnded():
		return "session ended"
	case !sess.PointsInitialized():
		return "points not initialized"
	}
	return ""
}

func (p *Pipeline) saveAnalysis(ctx context.Context, messageID string, v *moderation.Verdict, deduction int, applied bool) {
	if err := p.messages.SaveAnalysis(ctx, messageID, v, deduction, applied); err != nil {
		p.logger.Warn().Err(err).Str("message_id", messageID).Msg("failed to save message analysis")
	}
}
