/*
Copyright 2024 The TiDB-Connector Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mysql

import (
	"context"
	"math"
)

// ExecuteBatch runs the prepared statement once per parameter set and
// returns one update count per set, clamped to int. See
// ExecuteLargeBatch for the semantics.
func (s *Stmt) ExecuteBatch(ctx context.Context, paramSets [][]Value) ([]int, error) {
	outcomes, err := s.ExecuteLargeBatch(ctx, paramSets)
	clamped := make([]int, len(outcomes))
	for i, n := range outcomes {
		if n > math.MaxInt32 {
			n = math.MaxInt32
		}
		clamped[i] = int(n)
	}
	return clamped, err
}

// ExecuteLargeBatch runs the prepared statement once per parameter set.
//
// The transport is chosen per batch: a single bulk command frame when
// the server supports it and the caller opted in, pipelined executes
// otherwise, and strictly sequential round trips when a parameter is
// backed by a stream that must be read lazily.
//
// The result holds one outcome per parameter set: an affected-row
// count, or SuccessNoInfo when the server reported only a batch total.
// When some sets fail, the failed positions hold ExecuteFailed, the
// remaining sets are still executed, and the returned error is a
// BatchPartialError wrapping the first server error. A non-nil error
// that is not a BatchPartialError means the connection broke mid-batch.
func (s *Stmt) ExecuteLargeBatch(ctx context.Context, paramSets [][]Value) ([]int64, error) {
	if len(paramSets) == 0 {
		return nil, nil
	}
	if err := s.revalidate(); err != nil {
		return nil, err
	}
	paramCount := int(s.prepare.ParamsCount)
	for _, set := range paramSets {
		if len(set) != paramCount {
			return nil, newValidationError("batch expects %v parameters, got %v for %v",
				paramCount, len(set), truncateForLog(s.prepare.PrepareStmt))
		}
	}

	streamed := hasStreamParam(paramSets)
	c := s.conn
	switch {
	case c.params != nil && c.params.UseBulkStmts && c.supportsBulk() && !streamed:
		return s.executeBulk(ctx, paramSets)
	case (c.params == nil || !c.params.DisablePipeline) && !streamed:
		return s.executePipelined(ctx, paramSets)
	default:
		return s.executeSequential(ctx, paramSets)
	}
}

func hasStreamParam(paramSets [][]Value) bool {
	for _, set := range paramSets {
		for i := range set {
			if set[i].isStream() {
				return true
			}
		}
	}
	return false
}

// executeBulk sends the whole batch as one COM_STMT_BULK_EXECUTE frame.
// The server replies with a single OK carrying the batch total, so the
// per-row outcomes are SuccessNoInfo.
func (s *Stmt) executeBulk(ctx context.Context, paramSets [][]Value) ([]int64, error) {
	completions, err := s.conn.Execute(ctx, &bulkExecuteMessage{stmt: s.prepare, rows: paramSets})
	if err != nil {
		return nil, err
	}

	outcomes := make([]int64, len(paramSets))
	if serr, isErr := completions[0].(*SQLError); isErr {
		for i := range outcomes {
			outcomes[i] = ExecuteFailed
		}
		return outcomes, &BatchPartialError{Outcomes: outcomes, Cause: serr}
	}
	for i := range outcomes {
		outcomes[i] = SuccessNoInfo
	}
	return outcomes, nil
}

// executePipelined writes one COM_STMT_EXECUTE per set in bounded write
// bursts, then maps completions back to outcomes.
func (s *Stmt) executePipelined(ctx context.Context, paramSets [][]Value) ([]int64, error) {
	msgs := make([]ClientMessage, len(paramSets))
	for i, set := range paramSets {
		msgs[i] = &executeMessage{stmt: s.prepare, params: set}
	}

	completions, err := s.conn.ExecutePipeline(ctx, msgs...)
	if err != nil {
		return nil, err
	}
	if len(completions) < len(paramSets) {
		return nil, newProtocolError("batch of %v sets produced %v completions", len(paramSets), len(completions))
	}
	return outcomesFromCompletions(completions[:len(paramSets)])
}

// executeSequential runs one full exchange per set. Required when a
// parameter stream must be read at write time; also the fallback when
// pipelining is disabled.
func (s *Stmt) executeSequential(ctx context.Context, paramSets [][]Value) ([]int64, error) {
	outcomes := make([]int64, len(paramSets))
	var cause *SQLError
	for i, set := range paramSets {
		cpl, err := s.Execute(ctx, set...)
		if err != nil {
			// Connection gone: the remaining sets cannot run.
			for j := i; j < len(paramSets); j++ {
				outcomes[j] = ExecuteFailed
			}
			if cause == nil {
				if serr, isSQL := err.(*SQLError); isSQL {
					cause = serr
				} else {
					cause = NewSQLError(CRUnknownError, SSUnknownSQLState, "%v", err)
				}
			}
			return outcomes, &BatchPartialError{Outcomes: outcomes, Cause: cause}
		}
		switch r := cpl.(type) {
		case *OK:
			outcomes[i] = int64(r.AffectedRows)
		case *Result:
			outcomes[i] = SuccessNoInfo
		case *SQLError:
			outcomes[i] = ExecuteFailed
			if cause == nil {
				cause = r
			}
		}
	}
	if cause != nil {
		return outcomes, &BatchPartialError{Outcomes: outcomes, Cause: cause}
	}
	return outcomes, nil
}

func outcomesFromCompletions(completions []Completion) ([]int64, error) {
	outcomes := make([]int64, len(completions))
	var cause *SQLError
	for i, cpl := range completions {
		switch r := cpl.(type) {
		case *OK:
			outcomes[i] = int64(r.AffectedRows)
		case *Result:
			outcomes[i] = SuccessNoInfo
		case *SQLError:
			outcomes[i] = ExecuteFailed
			if cause == nil {
				cause = r
			}
		}
	}
	if cause != nil {
		return outcomes, &BatchPartialError{Outcomes: outcomes, Cause: cause}
	}
	return outcomes, nil
}
