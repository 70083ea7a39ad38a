package engine

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhle87/playbook-bot/internal/playbook"
	"github.com/minhle87/playbook-bot/pkg/types"
)

func TestEngine_LoadAndEvaluate(t *testing.T) {
	var mu sync.Mutex
	var signals []Signal
	var states []*State

	e := New(zerolog.Nop(),
		func(s Signal) { mu.Lock(); signals = append(signals, s); mu.Unlock() },
		nil,
		func(s *State) { mu.Lock(); states = append(states, s); mu.Unlock() },
	)
	defer e.Close()

	require.NoError(t, e.Load(testPlaybook()))
	assert.Error(t, e.Load(testPlaybook()), "double load must fail")

	for i, rsi := range []float64{50, 25} {
		in := inputAt(i, rsi)
		e.BarClosed("XAUUSD", types.TimeframeM15, func(*playbook.Playbook) (EvalInput, error) {
			return in, nil
		})
	}
	e.Unload("test") // drains the queue

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, signals, 1)
	assert.Equal(t, types.DirectionLong, signals[0].Direction)
	require.Len(t, states, 2, "a state snapshot per evaluation")
	assert.Equal(t, "in_pos", states[1].Phase)
}

func TestEngine_EvaluationsAreSerialized(t *testing.T) {
	e := New(zerolog.Nop(), nil, nil, nil)
	defer e.Close()
	require.NoError(t, e.Load(testPlaybook()))

	// hammer the same instance from many goroutines; the per-instance
	// queue must keep bars_in_phase consistent
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			in := inputAt(i, 50)
			e.BarClosed("XAUUSD", types.TimeframeM15, func(*playbook.Playbook) (EvalInput, error) {
				return in, nil
			})
		}()
	}
	wg.Wait()

	states := e.States()
	require.Len(t, states, 1)
	assert.Equal(t, n, states[0].BarsInPhase)
}

func TestEngine_UnloadRacesBarDelivery(t *testing.T) {
	// an unload between target collection and queue submission must drop
	// the evaluation, never panic on a closed queue
	for iter := 0; iter < 20; iter++ {
		e := New(zerolog.Nop(), nil, nil, nil)
		require.NoError(t, e.Load(testPlaybook()))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				in := inputAt(i, 50)
				e.BarClosed("XAUUSD", types.TimeframeM15, func(*playbook.Playbook) (EvalInput, error) {
					return in, nil
				})
			}
		}()
		go func() {
			defer wg.Done()
			e.Unload("test")
		}()
		wg.Wait()
		e.Close()
	}
}

func TestWorkQueue_SubmitAfterClose(t *testing.T) {
	q := newWorkQueue(4)
	ran := false
	require.True(t, q.Submit(func() { ran = true }))
	q.Close()
	assert.True(t, ran, "queued task must run before close returns")

	assert.False(t, q.Submit(func() { t.Error("task ran after close") }),
		"submit after close must be dropped")
	q.Close() // idempotent
}
