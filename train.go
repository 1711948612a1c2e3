package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Supervised training of the encoder through a classifier head.
//
// THE TRAINING PROCESS:
//
// 1. Forward, per example:
//    - (T, C) trace → Encoder → pooled (D) → head → logits (classes)
//    - logits → cross-entropy against the example's label
//
// 2. Backward, per example:
//    - ∂loss/∂logits = (softmax − onehot) / batchSize
//    - chain rule back through head, pooling, blocks and input projection
//    - gradients accumulate across the batch in each parameter's grad buffer
//
// 3. Update, per batch:
//    - optional global-norm clipping
//    - Adam (or SGD) step with coupled weight decay
//
// 4. Per epoch:
//    - training pass in training mode (dropout on)
//    - validation pass in eval mode
//    - loss, accuracy and weighted precision/recall/F1 for both
//
// Processing one example at a time yields the same gradient as a batched
// pass (the batch loss is a mean of per-example losses) while keeping only
// one example's attention activations alive.
//
// ===========================================================================

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// TrainingConfig holds hyperparameters for training.
type TrainingConfig struct {
	// Optimization
	LearningRate float64 `json:"learning_rate"`
	WeightDecay  float64 `json:"weight_decay"`
	GradientClip float64 `json:"gradient_clip"` // 0 disables

	// Schedule
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	ValBatchSize int     `json:"val_batch_size"`
	ValFraction  float64 `json:"val_fraction"`
	WarmupSteps  int     `json:"warmup_steps"`
	DecaySteps   int     `json:"decay_steps"`
	MinLR        float64 `json:"min_lr"`

	// Optimizer
	Optimizer   string  `json:"optimizer"`
	AdamBeta1   float64 `json:"adam_beta1"`
	AdamBeta2   float64 `json:"adam_beta2"`
	AdamEpsilon float64 `json:"adam_epsilon"`

	NumClasses int `json:"num_classes"`
}

// DefaultTrainingConfig returns the settings used for the spiral dataset.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		LearningRate: 1e-3,
		WeightDecay:  1e-4,
		GradientClip: 0,

		Epochs:       8,
		BatchSize:    16,
		ValBatchSize: 8,
		ValFraction:  0.3,

		Optimizer:   OptimizerAdam,
		AdamBeta1:   0.9,
		AdamBeta2:   0.999,
		AdamEpsilon: 1e-8,

		NumClasses: 2,
	}
}

// Validate reports the first inconsistency in cfg.
func (cfg TrainingConfig) Validate() error {
	switch {
	case cfg.LearningRate <= 0:
		return errors.Wrapf(ErrInvalidConfig, "learning rate must be positive, got %g", cfg.LearningRate)
	case cfg.WeightDecay < 0:
		return errors.Wrapf(ErrInvalidConfig, "weight decay must not be negative, got %g", cfg.WeightDecay)
	case cfg.GradientClip < 0:
		return errors.Wrapf(ErrInvalidConfig, "gradient clip must not be negative, got %g", cfg.GradientClip)
	case cfg.Epochs <= 0:
		return errors.Wrapf(ErrInvalidConfig, "epochs must be positive, got %d", cfg.Epochs)
	case cfg.BatchSize <= 0 || cfg.ValBatchSize <= 0:
		return errors.Wrapf(ErrInvalidConfig, "batch sizes must be positive, got %d/%d", cfg.BatchSize, cfg.ValBatchSize)
	case cfg.ValFraction < 0 || cfg.ValFraction >= 1:
		return errors.Wrapf(ErrInvalidConfig, "validation fraction must be in [0, 1), got %g", cfg.ValFraction)
	case cfg.NumClasses < 2:
		return errors.Wrapf(ErrInvalidConfig, "need at least 2 classes, got %d", cfg.NumClasses)
	}
	return nil
}

// EpochReport holds the metrics of one epoch. Val is nil when there is no
// validation split.
type EpochReport struct {
	Epoch    int           `json:"epoch"`
	Train    Metrics       `json:"train"`
	Val      *Metrics      `json:"val,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Trainer runs supervised training of a Classifier.
//
// Trainer is not safe for concurrent use.
type Trainer struct {
	model     *Classifier
	cfg       TrainingConfig
	params    []*Tensor
	optimizer Optimizer
	scheduler *LRScheduler
	logger    *zap.Logger

	history []EpochReport
}

// NewTrainer prepares an optimizer over all of model's parameters.
func NewTrainer(model *Classifier, cfg TrainingConfig, logger *zap.Logger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if model.NumClasses() != cfg.NumClasses {
		return nil, errors.Wrapf(ErrInvalidConfig, "model has %d classes, training config %d",
			model.NumClasses(), cfg.NumClasses)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	params := model.Parameters()
	opt, err := NewOptimizer(cfg, params)
	if err != nil {
		return nil, err
	}
	return &Trainer{
		model:     model,
		cfg:       cfg,
		params:    params,
		optimizer: opt,
		scheduler: NewLRScheduler(cfg.LearningRate, cfg.MinLR, cfg.WarmupSteps, cfg.DecaySteps),
		logger:    logger,
	}, nil
}

// History returns the reports of all completed epochs.
func (t *Trainer) History() []EpochReport {
	return t.history
}

// Fit trains for cfg.Epochs passes over train, evaluating on val after each
// one. val may be nil. The model is left in eval mode.
func (t *Trainer) Fit(ctx context.Context, train, val *Loader) ([]EpochReport, error) {
	if train == nil {
		return nil, errors.Wrap(ErrEmptyDataset, "no training split")
	}
	defer t.model.Encoder.SetTraining(false)

	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		start := time.Now()
		report := EpochReport{Epoch: epoch}

		trainMetrics, err := t.trainEpoch(ctx, train)
		if err != nil {
			return t.history, errors.Wrapf(err, "epoch %d", epoch)
		}
		report.Train = trainMetrics

		if val != nil {
			valMetrics, err := t.Evaluate(ctx, val)
			if err != nil {
				return t.history, errors.Wrapf(err, "epoch %d validation", epoch)
			}
			report.Val = &valMetrics
		}
		report.Duration = time.Since(start)
		t.history = append(t.history, report)

		fields := []zap.Field{
			zap.Int("epoch", epoch),
			zap.Int("epochs", t.cfg.Epochs),
			zap.Duration("duration", report.Duration),
			zap.Float64("train_loss", report.Train.Loss),
			zap.Float64("train_acc", report.Train.Accuracy),
			zap.Float64("train_f1", report.Train.F1),
		}
		if report.Val != nil {
			fields = append(fields,
				zap.Float64("val_loss", report.Val.Loss),
				zap.Float64("val_acc", report.Val.Accuracy),
				zap.Float64("val_f1", report.Val.F1))
		}
		t.logger.Info("epoch complete", fields...)
	}
	return t.history, nil
}

func (t *Trainer) trainEpoch(ctx context.Context, loader *Loader) (Metrics, error) {
	t.model.Encoder.SetTraining(true)
	var acc metricAccumulator
	err := loader.Each(func(b *Batch) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		loss, preds, err := t.step(b)
		if err != nil {
			return err
		}
		acc.addBatch(loss, preds, b.Labels)
		return nil
	})
	return acc.summarize(), err
}

// step runs forward and backward for every example of b and applies one
// optimizer update. It returns the mean loss and the predictions.
func (t *Trainer) step(b *Batch) (float64, []int, error) {
	if err := t.model.Encoder.checkBatch(b); err != nil {
		return 0, nil, err
	}
	if err := t.checkLabels(b); err != nil {
		return 0, nil, err
	}

	t.optimizer.ZeroGrad(t.params)

	n := b.Size()
	total := 0.0
	preds := make([]int, n)
	for i := 0; i < n; i++ {
		target := []int{b.Labels[i]}
		logits, pooled, cache := t.model.forwardExample(b.Inputs.Slice2D(i), b.Mask[i])
		total += CrossEntropyLoss(logits, target)
		preds[i] = argmax(logits.Row(0))

		gradLogits := Scale(CrossEntropyBackward(logits, target), 1/float64(n))
		t.model.backwardExample(gradLogits, pooled, cache)
	}

	norm := clipGradients(t.params, t.cfg.GradientClip)
	lr := t.scheduler.Next()
	t.optimizer.Step(t.params, lr)

	loss := total / float64(n)
	t.logger.Debug("train step",
		zap.Int("batch_size", n),
		zap.Int("seq_len", b.SeqLen()),
		zap.Float64("loss", loss),
		zap.Float64("grad_norm", norm),
		zap.Float64("lr", lr))
	return loss, preds, nil
}

// Evaluate computes metrics over loader in eval mode without touching
// parameters.
func (t *Trainer) Evaluate(ctx context.Context, loader *Loader) (Metrics, error) {
	t.model.Encoder.SetTraining(false)
	var acc metricAccumulator
	err := loader.Each(func(b *Batch) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.checkLabels(b); err != nil {
			return err
		}
		logits, err := t.model.Logits(b)
		if err != nil {
			return err
		}
		preds := make([]int, b.Size())
		for i := range preds {
			preds[i] = argmax(logits.Row(i))
		}
		acc.addBatch(CrossEntropyLoss(logits, b.Labels), preds, b.Labels)
		return nil
	})
	return acc.summarize(), err
}

func (t *Trainer) checkLabels(b *Batch) error {
	for i, y := range b.Labels {
		if y < 0 || y >= t.cfg.NumClasses {
			return errors.Wrapf(ErrInvalidConfig, "label %d of example %d outside [0, %d)", y, i, t.cfg.NumClasses)
		}
	}
	return nil
}

// Train attaches a classifier head to enc and fits it. It returns the
// trained classifier and the per-epoch reports.
func Train(ctx context.Context, enc *Encoder, train, val *Loader, cfg TrainingConfig, deps TrainDeps) (*Classifier, []EpochReport, error) {
	model, err := NewClassifier(enc, cfg.NumClasses, deps.Rand, deps.Compute)
	if err != nil {
		return nil, nil, err
	}
	trainer, err := NewTrainer(model, cfg, deps.Logger)
	if err != nil {
		return nil, nil, err
	}
	history, err := trainer.Fit(ctx, train, val)
	return model, history, err
}

// TrainDeps carries the collaborators Train needs besides data and
// hyperparameters.
type TrainDeps struct {
	Rand    *rand.Rand
	Compute *Compute
	Logger  *zap.Logger
}
