// api/admission/queue_test.go
package admission_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amanshivam/auth/admission"
	auth_errors "github.com/amanshivam/auth/errors"
)

func TestQueue(t *testing.T) {
	t.Run("RunsTaskImmediatelyWithFreeSlot", func(t *testing.T) {
		q := admission.NewQueue(2, 2)

		result, err := q.Submit(context.Background(), func() (interface{}, error) {
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", result)

		stats := q.GetStats()
		assert.Equal(t, uint64(1), stats.TotalRequests)
		assert.Equal(t, 0, stats.Running)
	})

	t.Run("PropagatesTaskError", func(t *testing.T) {
		q := admission.NewQueue(1, 1)
		wantErr := errors.New("task failed")

		_, err := q.Submit(context.Background(), func() (interface{}, error) {
			return nil, wantErr
		})
		assert.ErrorIs(t, err, wantErr)
	})

	t.Run("Backpressure_OneRunningOneQueuedRestRejected", func(t *testing.T) {
		q := admission.NewQueue(1, 1)

		release := make(chan struct{})
		started := make(chan struct{}, 3)
		results := make(chan error, 3)

		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := q.Submit(context.Background(), func() (interface{}, error) {
					started <- struct{}{}
					<-release
					return nil, nil
				})
				results <- err
			}()
			// Deterministic arrival order: the first submission takes
			// the slot, the second queues, the third is rejected.
			if i == 0 {
				select {
				case <-started:
				case <-time.After(2 * time.Second):
					t.Fatal("first task never started")
				}
			} else {
				require.Eventually(t, func() bool {
					s := q.GetStats()
					return int(s.TotalRequests) == i+1
				}, 2*time.Second, time.Millisecond)
			}
		}

		stats := q.GetStats()
		assert.Equal(t, 1, stats.Running)
		assert.Equal(t, 1, stats.QueueLength)
		assert.Equal(t, uint64(1), stats.RejectedRequests)

		close(release)
		wg.Wait()

		var queueFull, succeeded int
		for i := 0; i < 3; i++ {
			err := <-results
			if errors.Is(err, auth_errors.ErrQueueFull) {
				queueFull++
			} else if err == nil {
				succeeded++
			}
		}
		assert.Equal(t, 1, queueFull)
		assert.Equal(t, 2, succeeded)
	})

	t.Run("DispatchesNextOnCompletion", func(t *testing.T) {
		q := admission.NewQueue(1, 4)

		release := make(chan struct{})
		firstStarted := make(chan struct{})
		done := make(chan struct{}, 2)

		go func() {
			_, _ = q.Submit(context.Background(), func() (interface{}, error) {
				close(firstStarted)
				<-release
				return nil, nil
			})
			done <- struct{}{}
		}()
		<-firstStarted

		go func() {
			_, _ = q.Submit(context.Background(), func() (interface{}, error) {
				return nil, nil
			})
			done <- struct{}{}
		}()

		require.Eventually(t, func() bool {
			return q.GetStats().QueueLength == 1
		}, 2*time.Second, time.Millisecond)

		close(release)
		for i := 0; i < 2; i++ {
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("queued task was not dispatched after completion")
			}
		}

		stats := q.GetStats()
		assert.Equal(t, 0, stats.Running)
		assert.Equal(t, 0, stats.QueueLength)
		assert.Equal(t, uint64(1), stats.QueuedRequests)
	})

	t.Run("CancelledWhileQueued", func(t *testing.T) {
		q := admission.NewQueue(1, 2)

		release := make(chan struct{})
		firstStarted := make(chan struct{})
		go func() {
			_, _ = q.Submit(context.Background(), func() (interface{}, error) {
				close(firstStarted)
				<-release
				return nil, nil
			})
		}()
		<-firstStarted

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			_, err := q.Submit(ctx, func() (interface{}, error) { return nil, nil })
			errCh <- err
		}()

		require.Eventually(t, func() bool {
			return q.GetStats().QueueLength == 1
		}, 2*time.Second, time.Millisecond)

		cancel()
		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("cancelled submission never returned")
		}
		assert.Equal(t, 0, q.GetStats().QueueLength)

		close(release)
	})
}
