// Package metrics scores binary predictions.
package metrics

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"github.com/danielpatrickdp/brakeguard/internal/fault"
)

// Report maps prefixed metric names (train_accuracy, test_auc, ...) to values.
type Report map[string]float64

// Confusion counts outcomes with class 1 as positive.
type Confusion struct {
	TP, FP, TN, FN int
}

// Count tallies the confusion matrix of pred against y, with 1 as the positive class.
func Count(y, pred []int) Confusion {
	var c Confusion
	for i := range y {
		switch {
		case y[i] == 1 && pred[i] == 1:
			c.TP++
		case y[i] == 0 && pred[i] == 1:
			c.FP++
		case y[i] == 0 && pred[i] == 0:
			c.TN++
		default:
			c.FN++
		}
	}
	return c
}

// #region score
// Score computes accuracy, precision, recall, f1 and, when proba is given and both classes
// are present in y, ROC AUC. Undefined ratios are reported as 0.
func Score(prefix string, y, pred []int, proba []float64) (Report, error) {
	if len(y) == 0 {
		return nil, fault.Dataf("cannot score zero predictions")
	}
	if len(pred) != len(y) || (proba != nil && len(proba) != len(y)) {
		return nil, fault.Dataf("score: %d labels, %d predictions, %d probabilities", len(y), len(pred), len(proba))
	}

	c := Count(y, pred)
	precision := ratio(c.TP, c.TP+c.FP)
	recall := ratio(c.TP, c.TP+c.FN)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	r := Report{
		prefix + "accuracy":  ratio(c.TP+c.TN, len(y)),
		prefix + "precision": precision,
		prefix + "recall":    recall,
		prefix + "f1":        f1,
	}
	if proba != nil {
		if auc, ok := AUC(y, proba); ok {
			r[prefix+"auc"] = auc
		}
	}
	return r, nil
}

// AUC returns the area under the ROC curve. It is undefined when y holds a single class.
func AUC(y []int, proba []float64) (float64, bool) {
	var pos int
	for _, label := range y {
		pos += label
	}
	if pos == 0 || pos == len(y) {
		return 0, false
	}

	scores := slices.Clone(proba)
	classes := make([]bool, len(y))
	for i, label := range y {
		classes[i] = label == 1
	}
	stat.SortWeightedLabeled(scores, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, scores, classes, nil)
	auc := integrate.Trapezoidal(fpr, tpr)
	if math.IsNaN(auc) {
		return 0, false
	}
	return auc, true
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// #endregion score
