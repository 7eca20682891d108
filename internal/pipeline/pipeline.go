// Package pipeline runs the offline stages in order, each reading its inputs from the
// artifact store and writing its outputs back.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/danielpatrickdp/brakeguard/internal/artifact"
	"github.com/danielpatrickdp/brakeguard/internal/config"
	"github.com/danielpatrickdp/brakeguard/internal/eval"
	"github.com/danielpatrickdp/brakeguard/internal/events"
	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/features"
	"github.com/danielpatrickdp/brakeguard/internal/generate"
	"github.com/danielpatrickdp/brakeguard/internal/record"
	"github.com/danielpatrickdp/brakeguard/internal/split"
	"github.com/danielpatrickdp/brakeguard/internal/tracking"
	"github.com/danielpatrickdp/brakeguard/internal/train"
)

// #region stages
const (
	StageGenerate = "generate"
	StageSplit    = "split"
	StageFeatures = "features"
	StageTrain    = "train"
	StageEvaluate = "evaluate"
)

// Stages lists every stage in execution order.
var Stages = []string{StageGenerate, StageSplit, StageFeatures, StageTrain, StageEvaluate}

// ErrQualityGate is returned by the evaluate stage when a configured gate fails.
var ErrQualityGate = errors.New("quality gate failed")

// #endregion stages

// Pipeline holds the collaborators shared by all stages.
type Pipeline struct {
	cfg       config.Config
	rec       tracking.Recorder
	trainer   *train.Trainer
	evaluator *eval.Evaluator
	logger    *slog.Logger

	lastRun  tracking.RunID // run trained in this invocation, if any
	lastEval *eval.Outcome
}

func New(cfg config.Config, store artifact.Store, tracker tracking.Tracker, pub events.Publisher, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Pipeline{
		cfg:    cfg,
		rec:    tracking.Recorder{Artifacts: store, Tracker: tracker, Logger: logger},
		logger: logger,
		trainer: &train.Trainer{
			Artifacts:  store,
			Tracker:    tracker,
			Events:     pub,
			Logger:     logger,
			Experiment: cfg.Tracking.Experiment,
		},
		evaluator: &eval.Evaluator{
			Artifacts: store,
			Tracker:   tracker,
			Events:    pub,
			Logger:    logger,
			Config:    eval.EvalConfig{MinAccuracy: cfg.Evaluate.MinAccuracy, MinAUC: cfg.Evaluate.MinAUC},
		},
	}
}

// LastRun returns the run trained by this pipeline, or "".
func (p *Pipeline) LastRun() tracking.RunID { return p.lastRun }

// LastEvaluation returns the most recent evaluation outcome, or nil.
func (p *Pipeline) LastEvaluation() *eval.Outcome { return p.lastEval }

// #region run
// RunAll executes every stage in order and stops at the first failure.
func (p *Pipeline) RunAll(ctx context.Context) error {
	for _, s := range Stages {
		if err := p.Run(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Run executes a single stage.
func (p *Pipeline) Run(ctx context.Context, stage string) error {
	p.logger.Info("stage started", "stage", stage)
	var err error
	switch stage {
	case StageGenerate:
		err = p.generate(ctx)
	case StageSplit:
		err = p.split(ctx)
	case StageFeatures:
		err = p.features(ctx)
	case StageTrain:
		err = p.train(ctx)
	case StageEvaluate:
		err = p.evaluate(ctx)
	default:
		return fault.Configf("unknown stage %q", stage)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}
	p.logger.Info("stage finished", "stage", stage)
	return nil
}

// #endregion run

// #region generate
func (p *Pipeline) generate(ctx context.Context) error {
	if !p.cfg.Data.Generate {
		a, err := p.rec.Artifacts.Get(ctx, artifact.RawData)
		if err != nil {
			return fmt.Errorf("data.generate is false and no raw dataset exists: %w", err)
		}
		p.logger.Info("using existing raw dataset", "version", a.Version)
		return nil
	}
	ds, err := generate.Synthetic(generate.Params{
		Samples:     p.cfg.Data.NSamples,
		Seed:        p.cfg.Data.RandomState,
		MissingRate: p.cfg.Data.MissingRate,
	})
	if err != nil {
		return err
	}
	detail := fmt.Sprintf("n_samples=%d random_state=%d", p.cfg.Data.NSamples, p.cfg.Data.RandomState)
	_, err = p.putDataset(ctx, StageGenerate, "", artifact.RawData, ds, detail)
	return err
}

// #endregion generate

// #region split
func (p *Pipeline) split(ctx context.Context) error {
	ds, raw, err := p.readDataset(ctx, artifact.RawData)
	if err != nil {
		return err
	}
	s, err := split.Partition(ds, split.Options{
		TestSize: p.cfg.Split.TestSize,
		Seed:     p.cfg.Split.RandomState,
		Stratify: p.cfg.Split.Stratify,
	})
	if err != nil {
		return err
	}
	trainA, err := p.putDataset(ctx, StageSplit, "", artifact.TrainData, s.Train, "")
	if err != nil {
		return err
	}
	testA, err := p.putDataset(ctx, StageSplit, "", artifact.TestData, s.Test, "")
	if err != nil {
		return err
	}
	lineage := artifact.Lineage{}.With(raw).With(trainA).With(testA)
	_, err = p.rec.PutJSON(ctx, StageSplit, "", artifact.SplitLineage, lineage, "")
	return err
}

// #endregion split

// #region features
// features fits on the train split named by the newest split lineage, never on a newer
// data/train written by some later split.
func (p *Pipeline) features(ctx context.Context) error {
	var lineage artifact.Lineage
	if _, err := artifact.GetJSON(ctx, p.rec.Artifacts, artifact.SplitLineage, &lineage); err != nil {
		return fmt.Errorf("features need a split: %w", err)
	}
	trainDS, _, err := p.readDatasetVersion(ctx, artifact.TrainData, lineage)
	if err != nil {
		return err
	}
	testDS, _, err := p.readDatasetVersion(ctx, artifact.TestData, lineage)
	if err != nil {
		return err
	}

	tr, err := features.Fit(trainDS, features.Options{
		Strategy:  p.cfg.Features.ImputeStrategy,
		FillValue: p.cfg.Features.FillValue,
		Scale:     p.cfg.Features.Scale,
	})
	if err != nil {
		return err
	}
	trainFX, err := tr.Apply(trainDS)
	if err != nil {
		return err
	}
	testFX, err := tr.Apply(testDS)
	if err != nil {
		return err
	}

	data, err := tr.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode transform: %w", err)
	}
	ta, err := p.rec.Put(ctx, StageFeatures, "", artifact.FeatureTransform, data, p.cfg.Features.ImputeStrategy)
	if err != nil {
		return err
	}
	trainA, err := p.putDataset(ctx, StageFeatures, "", artifact.TrainFeatures, trainFX, "")
	if err != nil {
		return err
	}
	testA, err := p.putDataset(ctx, StageFeatures, "", artifact.TestFeatures, testFX, "")
	if err != nil {
		return err
	}
	_, err = p.rec.PutJSON(ctx, StageFeatures, "", artifact.FeatureLineage, lineage.With(ta).With(trainA).With(testA), "")
	return err
}

// #endregion features

// #region train
// train reads the transform and train features named by the newest features lineage and
// tags the run with that lineage.
func (p *Pipeline) train(ctx context.Context) error {
	var lineage artifact.Lineage
	if _, err := artifact.GetJSON(ctx, p.rec.Artifacts, artifact.FeatureLineage, &lineage); err != nil {
		return fmt.Errorf("train needs features: %w", err)
	}
	ta, err := p.artifactAt(ctx, artifact.FeatureTransform, lineage)
	if err != nil {
		return err
	}
	tr, err := features.Unmarshal(ta.Data)
	if err != nil {
		return err
	}
	fx, _, err := p.readDatasetVersion(ctx, artifact.TrainFeatures, lineage)
	if err != nil {
		return err
	}

	res, err := p.trainer.Train(ctx, train.Input{
		Features:  fx,
		Transform: tr,
		Params:    p.cfg.ForestParams(),
		Config:    flatten(p.cfg),
		Lineage:   lineage.Tags(),
	})
	if err != nil {
		return err
	}
	p.lastRun = res.RunID
	return nil
}

// #endregion train

// #region evaluate
func (p *Pipeline) evaluate(ctx context.Context) error {
	id, err := p.resolveRun(ctx)
	if err != nil {
		return err
	}
	test, err := RunTestData(ctx, p.rec.Artifacts, p.rec.Tracker, id)
	if err != nil {
		return err
	}
	out, err := p.evaluator.Evaluate(ctx, id, test)
	if err != nil {
		return err
	}
	p.lastEval = &out
	if !out.Gates.Passed {
		return fmt.Errorf("%w: %s", ErrQualityGate, out.Gates.Reason)
	}
	return nil
}

// resolveRun picks the configured run, else this invocation's run, else the latest finished run.
func (p *Pipeline) resolveRun(ctx context.Context) (tracking.RunID, error) {
	if p.cfg.Evaluate.RunID != "" {
		return tracking.ParseRunID(p.cfg.Evaluate.RunID)
	}
	if p.lastRun != "" {
		return p.lastRun, nil
	}
	run, err := p.rec.Tracker.LatestRun(ctx, p.cfg.Tracking.Experiment)
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

// RunTestData reads the test split a run was trained alongside, as recorded in its lineage
// tags. Runs without that tag fall back to the newest data/test.
func RunTestData(ctx context.Context, store artifact.Store, tracker tracking.Tracker, id tracking.RunID) (record.Dataset, error) {
	run, err := tracker.GetRun(ctx, id)
	if err != nil {
		return record.Dataset{}, err
	}
	var a artifact.Artifact
	if v, ok := run.Tags[artifact.TestData]; ok {
		version, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return record.Dataset{}, fault.Dataf("run %s: bad %s lineage tag %q", id, artifact.TestData, v)
		}
		a, err = store.GetVersion(ctx, artifact.TestData, version)
	} else {
		a, err = store.Get(ctx, artifact.TestData)
	}
	if err != nil {
		return record.Dataset{}, err
	}
	ds, err := record.ReadCSV(bytes.NewReader(a.Data), record.BrakeSchema())
	if err != nil {
		return record.Dataset{}, fmt.Errorf("read %s v%d: %w", artifact.TestData, a.Version, err)
	}
	return ds, nil
}

// #endregion evaluate

// #region io
func (p *Pipeline) readDataset(ctx context.Context, key string) (record.Dataset, artifact.Artifact, error) {
	a, err := p.rec.Artifacts.Get(ctx, key)
	if err != nil {
		return record.Dataset{}, artifact.Artifact{}, err
	}
	ds, err := record.ReadCSV(bytes.NewReader(a.Data), record.BrakeSchema())
	if err != nil {
		return record.Dataset{}, artifact.Artifact{}, fmt.Errorf("read %s: %w", key, err)
	}
	return ds, a, nil
}

// artifactAt reads the version of key recorded in lineage.
func (p *Pipeline) artifactAt(ctx context.Context, key string, lineage artifact.Lineage) (artifact.Artifact, error) {
	v, ok := lineage[key]
	if !ok {
		return artifact.Artifact{}, fault.Dataf("lineage has no version for %s", key)
	}
	return p.rec.Artifacts.GetVersion(ctx, key, v)
}

func (p *Pipeline) readDatasetVersion(ctx context.Context, key string, lineage artifact.Lineage) (record.Dataset, artifact.Artifact, error) {
	a, err := p.artifactAt(ctx, key, lineage)
	if err != nil {
		return record.Dataset{}, artifact.Artifact{}, err
	}
	ds, err := record.ReadCSV(bytes.NewReader(a.Data), record.BrakeSchema())
	if err != nil {
		return record.Dataset{}, artifact.Artifact{}, fmt.Errorf("read %s v%d: %w", key, a.Version, err)
	}
	return ds, a, nil
}

func (p *Pipeline) putDataset(ctx context.Context, stage string, runID tracking.RunID, key string, ds record.Dataset, detail string) (artifact.Artifact, error) {
	var buf bytes.Buffer
	if err := record.WriteCSV(&buf, ds); err != nil {
		return artifact.Artifact{}, fmt.Errorf("encode %s: %w", key, err)
	}
	if detail == "" {
		detail = fmt.Sprintf("%d rows", ds.Len())
	}
	return p.rec.Put(ctx, stage, runID, key, buf.Bytes(), detail)
}

// flatten records the parameters that shaped a run.
func flatten(c config.Config) map[string]string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return map[string]string{
		"n_samples":          strconv.Itoa(c.Data.NSamples),
		"data_random_state":  strconv.FormatInt(c.Data.RandomState, 10),
		"missing_rate":       f(c.Data.MissingRate),
		"test_size":          f(c.Split.TestSize),
		"split_random_state": strconv.FormatInt(c.Split.RandomState, 10),
		"stratify":           strconv.FormatBool(c.Split.Stratify),
		"impute_strategy":    c.Features.ImputeStrategy,
		"scale":              strconv.FormatBool(c.Features.Scale),
		"n_estimators":       strconv.Itoa(c.Train.NEstimators),
		"max_depth":          strconv.Itoa(c.Train.MaxDepth),
		"min_samples_split":  strconv.Itoa(c.Train.MinSamplesSplit),
		"min_samples_leaf":   strconv.Itoa(c.Train.MinSamplesLeaf),
		"max_features":       c.Train.MaxFeatures,
		"class_weight":       c.Train.ClassWeight,
		"bootstrap":          strconv.FormatBool(c.Train.Bootstrap),
		"random_state":       strconv.FormatInt(c.Train.RandomState, 10),
	}
}

// #endregion io
