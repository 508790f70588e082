package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedutinova/shopgen/internal/common"
	"github.com/fedutinova/shopgen/internal/generation"
	"github.com/fedutinova/shopgen/internal/job"
)

// vendorByProduct rejects every request whose source mentions reject.
func vendorByProduct(reject string) *fakeVendor {
	return &fakeVendor{name: "leonardo", submit: func(_ context.Context, req generation.Request) (generation.Submission, error) {
		if strings.Contains(req.SourceURL, reject) {
			return generation.Submission{}, generation.FromStatus("leonardo", 400, []byte("invalid parameters"))
		}
		return generation.Submission{JobRef: "gen-" + req.SourceURL}, nil
	}}
}

func TestScenarioA_MiddleItemRejected(t *testing.T) {
	f := newFixture(vendorByProduct("p2"), Config{})
	defer f.tasks.Close()

	res, err := f.orch.RunBatch(context.Background(), BatchRequest{
		Items: []job.WorkItem{item("p1"), item("p2"), item("p3")},
	}, nil)
	require.NoError(t, err)

	require.Len(t, res.Items, 3)
	for i, want := range []string{"p1", "p2", "p3"} {
		assert.Equal(t, i, res.Items[i].Index)
		assert.Equal(t, want, res.Items[i].ProductID)
	}

	assert.True(t, res.Items[0].Success)
	require.NotNil(t, res.Items[0].Output)
	assert.NotEmpty(t, res.Items[0].Output.URL)

	assert.False(t, res.Items[1].Success)
	assert.Equal(t, common.KindVendorRejected, res.Items[1].ErrorKind)
	assert.Nil(t, res.Items[1].Output)
	assert.Equal(t, job.StatusFailed, res.Items[1].Status)

	assert.True(t, res.Items[2].Success)
	require.NotNil(t, res.Items[2].Output)

	assert.Equal(t, BatchComplete, res.Status)
	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1.0, res.Progress())
}

func TestRunBatch_OneOutcomePerItemInOrder(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			// every third item fails, items finish in reverse order
			vendor := &fakeVendor{name: "leonardo", submit: func(_ context.Context, req generation.Request) (generation.Submission, error) {
				var n int
				fmt.Sscanf(req.SourceURL[strings.LastIndex(req.SourceURL, "/")+1:], "item%d", &n)
				time.Sleep(time.Duration(10-n%10) * time.Millisecond)
				if n%3 == 0 {
					return generation.Submission{}, generation.GenerationFailed("leonardo", "nsfw")
				}
				return generation.Submission{Output: &job.Output{URL: fmt.Sprintf("https://cdn.example.com/%d.png", n)}}, nil
			}}
			f := newFixture(vendor, Config{})
			defer f.tasks.Close()

			var items []job.WorkItem
			for i := 0; i < 10; i++ {
				items = append(items, item(fmt.Sprintf("item%d", i)))
			}

			res, err := f.orch.RunBatch(context.Background(), BatchRequest{Items: items, Concurrency: concurrency}, nil)
			require.NoError(t, err)
			require.Len(t, res.Items, len(items))
			for i, out := range res.Items {
				assert.Equal(t, i, out.Index)
				assert.Equal(t, items[i].ProductID, out.ProductID)
				if i%3 == 0 {
					assert.False(t, out.Success)
					assert.Equal(t, common.KindVendorGenerationFailed, out.ErrorKind)
				} else {
					require.True(t, out.Success, out.Error)
					assert.Equal(t, fmt.Sprintf("https://cdn.example.com/%d.png", i), out.Output.URL)
				}
			}
			assert.Equal(t, 4, res.Failed)
			assert.Equal(t, 6, res.Succeeded)
		})
	}
}

func TestRunBatch_Progress(t *testing.T) {
	f := newFixture(&fakeVendor{name: "leonardo", submit: immediate("u")}, Config{})
	defer f.tasks.Close()

	var mu sync.Mutex
	var seen []int
	res, err := f.orch.RunBatch(context.Background(), BatchRequest{
		Items: []job.WorkItem{item("a"), item("b"), item("c")},
	}, func(b BatchResult) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, b.Processed)
		assert.Equal(t, 3, b.Total)
		assert.Equal(t, BatchRunning, b.Status)
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.NotNil(t, res.FinishedAt)
}

func TestRunBatch_AllFailed(t *testing.T) {
	f := newFixture(vendorByProduct("cdn.shopify.com"), Config{})
	defer f.tasks.Close()

	res, err := f.orch.RunBatch(context.Background(), BatchRequest{Items: []job.WorkItem{item("a"), item("b")}}, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, 2, res.Failed)
}

func TestRunBatch_InvalidItemDoesNotAbort(t *testing.T) {
	f := newFixture(&fakeVendor{name: "leonardo", submit: immediate("u")}, Config{})
	defer f.tasks.Close()

	bad := item("bad")
	bad.SourceURL = ""
	res, err := f.orch.RunBatch(context.Background(), BatchRequest{Items: []job.WorkItem{bad, item("good")}}, nil)
	require.NoError(t, err)

	require.Len(t, res.Items, 2)
	assert.Equal(t, common.KindInvalidInput, res.Items[0].ErrorKind)
	assert.Empty(t, res.Items[0].JobID, "invalid items never get a job")
	assert.True(t, res.Items[1].Success)
	assert.NotEmpty(t, res.Items[1].JobID)
	assert.Equal(t, 1, f.reg.Len())
}

func TestRunBatch_RejectsBadRequests(t *testing.T) {
	f := newFixture(&fakeVendor{name: "leonardo"}, Config{MaxBatchItems: 2})
	defer f.tasks.Close()

	_, err := f.orch.RunBatch(context.Background(), BatchRequest{}, nil)
	assert.True(t, common.IsInvalidInput(err))

	_, err = f.orch.RunBatch(context.Background(), BatchRequest{Items: []job.WorkItem{item("a"), item("b"), item("c")}}, nil)
	assert.True(t, common.IsInvalidInput(err))

	_, err = f.orch.StartBatch(context.Background(), BatchRequest{Items: []job.WorkItem{item("a")}, Concurrency: -1})
	assert.True(t, common.IsInvalidInput(err))
}

func TestRunBatch_SharedParamsAndFlags(t *testing.T) {
	vendor := &fakeVendor{name: "leonardo", submit: immediate("u")}
	var inputs []HookInput
	hook := hookFunc{name: "capture", fn: func(_ context.Context, in HookInput) (HookOutput, error) {
		inputs = append(inputs, in)
		return HookOutput{}, nil
	}}
	f := newFixture(vendor, Config{Hooks: []Hook{hook}})
	defer f.tasks.Close()

	own := item("own")
	own.Params.Prompt = "item prompt"
	shared := item("shared")
	shared.Params = job.Params{}

	_, err := f.orch.RunBatch(context.Background(), BatchRequest{
		Items:       []job.WorkItem{own, shared},
		Params:      job.Params{Model: "leonardo", Prompt: "batch prompt", NegativePrompt: "blurry"},
		PostProcess: true,
		Shop:        "demo.myshopify.com",
	}, nil)
	require.NoError(t, err)

	require.Equal(t, 2, vendor.submitCount())
	assert.Equal(t, "item prompt", vendor.submits[0].Prompt)
	assert.Equal(t, "batch prompt", vendor.submits[1].Prompt)
	assert.Equal(t, "blurry", vendor.submits[0].NegativePrompt)

	require.Len(t, inputs, 2)
	for _, in := range inputs {
		assert.Equal(t, "demo.myshopify.com", in.Item.Shop)
		assert.True(t, in.Item.PostProcess)
	}
}

func TestRunBatch_CancelledContextStillReportsEveryItem(t *testing.T) {
	f := newFixture(&fakeVendor{name: "leonardo", poll: func(int) (generation.Status, error) { return running() }}, Config{})
	defer f.tasks.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.orch.RunBatch(ctx, BatchRequest{Items: []job.WorkItem{item("a"), item("b")}}, nil)
	require.NoError(t, err)

	require.Len(t, res.Items, 2)
	for _, out := range res.Items {
		assert.Equal(t, common.KindCancelled, out.ErrorKind)
	}
}

func TestStartBatch_RunsInBackground(t *testing.T) {
	f := newFixture(vendorByProduct("p2"), Config{})
	defer f.tasks.Close()

	started, err := f.orch.StartBatch(context.Background(), BatchRequest{
		Items: []job.WorkItem{item("p1"), item("p2"), item("p3")},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, started.Total)
	assert.Equal(t, BatchRunning, started.Status)

	h, ok := f.tasks.Handle(started.ID)
	if ok {
		require.NoError(t, h.Wait(context.Background()))
	}

	res, err := f.orch.Batch(started.ID)
	require.NoError(t, err)
	assert.Equal(t, BatchComplete, res.Status)
	assert.Equal(t, OutcomePartial, res.Outcome)
	require.Len(t, res.Items, 3)
	assert.False(t, res.Items[1].Success)

	_, err = f.orch.Batch("batch-missing")
	assert.ErrorIs(t, err, common.ErrBatchNotFound)
}

func TestBatchStore_Sweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewBatchStore(5*time.Minute, func() time.Time { return now })

	old := newBatchResult("old", []job.WorkItem{item("a")})
	old.finish(now.Add(-10 * time.Minute))
	fresh := newBatchResult("fresh", []job.WorkItem{item("a")})
	fresh.finish(now.Add(-time.Minute))
	running := newBatchResult("running", []job.WorkItem{item("a")})

	store.Put(old)
	store.Put(fresh)
	store.Put(running)

	assert.Equal(t, 1, store.Sweep())
	_, err := store.Get("old")
	assert.ErrorIs(t, err, common.ErrBatchNotFound)

	first, err := store.Get("fresh")
	require.NoError(t, err)
	second, err := store.Get("fresh")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = store.Get("running")
	assert.NoError(t, err)
	assert.Equal(t, 2, store.Len())
}

func TestBatchStore_GetReturnsCopy(t *testing.T) {
	store := NewBatchStore(time.Minute, nil)
	store.Put(newBatchResult("b", []job.WorkItem{item("a")}))

	got, err := store.Get("b")
	require.NoError(t, err)
	got.Items[0].ProductID = "mutated"

	again, err := store.Get("b")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Items[0].ProductID)
}
