// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package constraint

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// NonNegative clips the selected profiles so that no value lies below -slack.
// Values below the slack are set to zero, values within [-slack, 0) are kept.
func NonNegative(p mat.Matrix, axis Axis, idx []int, slack float64) *mat.Dense {
	return newProfiles(p, axis).update(idx, func(v []float64) {
		for i, x := range v {
			if x < -slack {
				v[i] = 0
			}
		}
	})
}

// Unimodal forces each selected profile to have a single maximum, see Unimodal1D.
func Unimodal(p mat.Matrix, axis Axis, idx []int, tol float64, mod Mode) *mat.Dense {
	return newProfiles(p, axis).update(idx, func(v []float64) {
		Unimodal1D(v, tol, mod)
	})
}

// Unimodal1D makes a in place unimodal around its first global maximum and returns it.
//
// Walking away from the peak on each side, a point is corrected when it exceeds tol
// times the (already corrected) point nearer to the peak. A tolerance above 1 allows
// small rises against the trend before correcting.
//
// In Strict mode the offending point takes the value of its neighbour.
// In Smooth mode both points take their average and the walk steps back by one to
// re-check the lowered neighbour, never passing the peak. After len(a) smoothing
// corrections on one side, the remaining points of that side are corrected strictly.
func Unimodal1D(a []float64, tol float64, mod Mode) []float64 {
	n := len(a)
	if n < 2 {
		return a
	}
	peak := floats.MaxIdx(a)

	// backward
	budget := n
	for cur := peak - 1; cur >= 0; {
		if a[cur] > a[cur+1]*tol {
			if mod == Smooth && budget > 0 {
				budget--
				a[cur] = (a[cur] + a[cur+1]) / 2
				a[cur+1] = a[cur]
				cur = min(cur+1, peak-1)
				continue
			}
			a[cur] = a[cur+1]
		}
		cur--
	}

	// forward
	budget = n
	for cur := peak + 1; cur < n; {
		if a[cur] > a[cur-1]*tol {
			if mod == Smooth && budget > 0 {
				budget--
				a[cur] = (a[cur] + a[cur-1]) / 2
				a[cur-1] = a[cur]
				cur = max(cur-1, peak+1)
				continue
			}
			a[cur] = a[cur-1]
		}
		cur++
	}
	return a
}

// MonotonicIncrease scans each selected profile from its first point and clamps
// the next point to the current one when next < current/tol.
func MonotonicIncrease(p mat.Matrix, axis Axis, idx []int, tol float64) *mat.Dense {
	return newProfiles(p, axis).update(idx, func(v []float64) {
		for i := 0; i+1 < len(v); i++ {
			if v[i+1] < v[i]/tol {
				v[i+1] = v[i]
			}
		}
	})
}

// MonotonicDecrease scans each selected profile from its first point and clamps
// the next point to the current one when next > current·tol.
func MonotonicDecrease(p mat.Matrix, axis Axis, idx []int, tol float64) *mat.Dense {
	return newProfiles(p, axis).update(idx, func(v []float64) {
		for i := 0; i+1 < len(v); i++ {
			if v[i+1] > v[i]*tol {
				v[i+1] = v[i]
			}
		}
	})
}
