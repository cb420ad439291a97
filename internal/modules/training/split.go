package training

import "fmt"

// Fold is one chronological train/test partition. Indices refer to rows of
// a matrix already sorted by date ascending; every training index precedes
// every test index in time.
type Fold struct {
	Train []int
	Test  []int
}

// TimeSeriesSplit produces k chronologically ordered folds over n samples.
// The test partitions are k successive equal blocks at the tail of the
// series; each fold trains on everything before its test block. No
// shuffling, no leakage from future to past.
func TimeSeriesSplit(n, k int) ([]Fold, error) {
	if k < 1 {
		return nil, fmt.Errorf("fold count must be at least 1, got %d", k)
	}
	if n < k+1 {
		return nil, fmt.Errorf("need at least %d samples for %d folds, got %d", k+1, k, n)
	}

	testSize := n / (k + 1)
	if testSize < 1 {
		return nil, fmt.Errorf("test partitions would be empty: %d samples, %d folds", n, k)
	}

	folds := make([]Fold, 0, k)
	for i := 0; i < k; i++ {
		testStart := n - (k-i)*testSize
		testEnd := testStart + testSize
		if i == k-1 {
			testEnd = n
		}

		train := make([]int, testStart)
		for j := 0; j < testStart; j++ {
			train[j] = j
		}
		test := make([]int, 0, testEnd-testStart)
		for j := testStart; j < testEnd; j++ {
			test = append(test, j)
		}

		folds = append(folds, Fold{Train: train, Test: test})
	}
	return folds, nil
}

// AdaptiveFoldCount picks the fold count for a sample size:
// min(configuredMax, samples/10), never below 1.
func AdaptiveFoldCount(samples, configuredMax int) int {
	k := samples / 10
	if k > configuredMax {
		k = configuredMax
	}
	if k < 1 {
		k = 1
	}
	return k
}
