package normalize_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"smartmetal/internal/domain"
	"smartmetal/internal/llm"
	"smartmetal/internal/normalize"
	"smartmetal/internal/port"
	"smartmetal/mocks"
)

func newNormalizer(t *testing.T, opts normalize.Options, clients ...*mocks.MockModelClient) *normalize.Normalizer {
	t.Helper()
	backends := make([]llm.Backend, len(clients))
	for i, c := range clients {
		backends[i] = llm.Backend{Client: c}
	}
	inv := llm.NewInvoker(backends, llm.WithRetryDelays(time.Millisecond, 5*time.Millisecond))
	n, err := normalize.NewNormalizer(inv, nil, opts, nil)
	require.NoError(t, err)
	return n
}

func response(text string) *port.CompletionResponse {
	return &port.CompletionResponse{Text: text, Model: "m"}
}

// echoItems answers with one normalized entry per raw item found in the prompt.
func echoItems(req port.CompletionRequest) string {
	user := req.Messages[len(req.Messages)-1].Content
	var entries []string
	for _, line := range strings.Split(user, "\n") {
		if strings.HasPrefix(line, `{"line_number":`) {
			var n int
			_, _ = fmt.Sscanf(line, `{"line_number":%d`, &n)
			entries = append(entries, fmt.Sprintf(`{"line_number":%d,"description":"item %d","unit":"ea"}`, n, n))
		}
	}
	return `{"line_items":[` + strings.Join(entries, ",") + `]}`
}

func TestNormalizer_Hybrid_SingleRequest(t *testing.T) {
	client := mocks.NewMockModelClient("claude")
	client.On("Complete", mock.Anything, mock.Anything).Return(response(
		"```json\n{\"metadata\":{\"client_name\":\"ACME\"},\"line_items\":[{\"line_number\":1,\"description\":\"Flange\",\"quantity\":10,\"unit\":\"EA\"},]}\n```"), nil)

	n := newNormalizer(t, normalize.Options{}, client)
	res, err := n.Normalize(context.Background(), normalize.Request{
		Document: &domain.Document{Text: "RFQ"},
		Items:    []domain.RawLineItem{{LineNumber: 1, Description: "Flange", Quantity: qty(10)}},
	})

	require.NoError(t, err)
	assert.Equal(t, domain.ModeHybrid, res.Mode)
	assert.Equal(t, "ACME", res.Metadata.ClientName)
	assert.Equal(t, "claude", res.Backend)
	assert.Equal(t, 1, res.Chunks)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Flange", res.Items[0].Description)

	req := client.Calls[0].Arguments.Get(1).(port.CompletionRequest)
	assert.Equal(t, 2048+120, req.MaxOutputTokens)
}

func TestNormalizer_MetadataOnlyResponse_Rejected(t *testing.T) {
	client := mocks.NewMockModelClient("claude")
	client.On("Complete", mock.Anything, mock.Anything).Return(response(`{"revisions": ["A","B"]}`), nil)

	n := newNormalizer(t, normalize.Options{}, client)
	_, err := n.Normalize(context.Background(), normalize.Request{
		Document:     &domain.Document{Text: "RFQ"},
		ExpectedRows: 6,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrModelParse))
	var parseErr *domain.ModelParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Contains(t, parseErr.Reason, "metadata-only response")
}

func TestNormalizer_MetadataOnlyResponse_FallsBackToSecondBackend(t *testing.T) {
	first := mocks.NewMockModelClient("claude")
	second := mocks.NewMockModelClient("gemini")
	first.On("Complete", mock.Anything, mock.Anything).Return(response(`{"revisions": ["A"]}`), nil)
	second.On("Complete", mock.Anything, mock.Anything).Return(response(
		`{"line_items":[{"line_number":1,"description":"a"},{"line_number":2,"description":"b"},{"line_number":3,"description":"c"},{"line_number":4,"description":"d"},{"line_number":5,"description":"e"}]}`), nil)

	n := newNormalizer(t, normalize.Options{}, first, second)
	res, err := n.Normalize(context.Background(), normalize.Request{
		Document:     &domain.Document{Text: "RFQ"},
		ExpectedRows: 5,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.ModeFull, res.Mode)
	assert.Equal(t, "gemini", res.Backend)
	assert.Len(t, res.Items, 5)
}

func TestNormalizer_SmallDocument_EmptyListAccepted(t *testing.T) {
	client := mocks.NewMockModelClient("claude")
	client.On("Complete", mock.Anything, mock.Anything).Return(response(`{"line_items": []}`), nil)

	n := newNormalizer(t, normalize.Options{}, client)
	res, err := n.Normalize(context.Background(), normalize.Request{
		Document:     &domain.Document{Text: "cover letter"},
		ExpectedRows: 2,
	})

	require.NoError(t, err)
	assert.Empty(t, res.Items)
}

func TestNormalizer_TruncatedResponse_Warns(t *testing.T) {
	client := mocks.NewMockModelClient("claude")
	client.On("Complete", mock.Anything, mock.Anything).Return(&port.CompletionResponse{
		Text:      `{"line_items":[{"line_number":1,"description":"Flange"},{"line_number":2,"desc`,
		Truncated: true,
	}, nil)

	n := newNormalizer(t, normalize.Options{}, client)
	res, err := n.Normalize(context.Background(), normalize.Request{
		Document: &domain.Document{},
		Items:    []domain.RawLineItem{{LineNumber: 1}, {LineNumber: 2}},
	})

	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Items, 1)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "truncated")
}

func TestNormalizer_Chunked_MergesInOrderWithBoundedConcurrency(t *testing.T) {
	var inFlight, peak int32
	client := mocks.NewMockModelClient("claude")
	client.On("Complete", mock.Anything, mock.Anything).
		Return(func(ctx context.Context, req port.CompletionRequest) *port.CompletionResponse {
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return response(echoItems(req))
		}, nil)

	doc := pagedDoc(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12)
	items := rawItems(120, func(i int) int { return i/10 + 1 })

	n := newNormalizer(t, normalize.Options{
		Chunking:    normalize.ChunkOptions{ItemThreshold: 60, PagesPerChunk: 3},
		Concurrency: 2,
	}, client)
	res, err := n.Normalize(context.Background(), normalize.Request{Document: doc, Items: items})

	require.NoError(t, err)
	assert.Equal(t, 4, res.Chunks)
	assert.Equal(t, 0, res.FailedChunks)
	require.Len(t, res.Items, 120)
	for i, it := range res.Items {
		assert.Equal(t, i+1, it.LineNumber)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	client.AssertNumberOfCalls(t, "Complete", 4)
}

func TestNormalizer_Chunked_FailedChunkRetriedAsHalves(t *testing.T) {
	client := mocks.NewMockModelClient("claude")
	var calls int32
	client.On("Complete", mock.Anything, mock.Anything).
		Return(func(ctx context.Context, req port.CompletionRequest) *port.CompletionResponse {
			atomic.AddInt32(&calls, 1)
			user := req.Messages[1].Content
			if strings.Contains(user, "pages 4-6") {
				return response("the output was too long, sorry")
			}
			return response(echoItems(req))
		}, nil)

	doc := pagedDoc(1, 2, 3, 4, 5, 6)
	items := rawItems(70, func(i int) int { return i/12 + 1 })

	n := newNormalizer(t, normalize.Options{
		Chunking:          normalize.ChunkOptions{ItemThreshold: 60, PagesPerChunk: 3},
		RetryFailedChunks: true,
	}, client)
	res, err := n.Normalize(context.Background(), normalize.Request{Document: doc, Items: items})

	require.NoError(t, err)
	assert.Equal(t, 0, res.FailedChunks)
	assert.Equal(t, 3, res.Chunks)
	assert.Len(t, res.Items, 70)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestNormalizer_Chunked_FailedChunkReported(t *testing.T) {
	client := mocks.NewMockModelClient("claude")
	client.On("Complete", mock.Anything, mock.Anything).
		Return(func(ctx context.Context, req port.CompletionRequest) *port.CompletionResponse {
			if strings.Contains(req.Messages[1].Content, "pages 4-6") {
				return response("garbage")
			}
			return response(echoItems(req))
		}, nil)

	doc := pagedDoc(1, 2, 3, 4, 5, 6)
	items := rawItems(70, func(i int) int { return i/12 + 1 })

	n := newNormalizer(t, normalize.Options{
		Chunking: normalize.ChunkOptions{ItemThreshold: 60, PagesPerChunk: 3},
	}, client)
	res, err := n.Normalize(context.Background(), normalize.Request{Document: doc, Items: items})

	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedChunks)
	assert.Len(t, res.Items, 36)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "chunk pages 4-6 failed")
}

func TestNormalizer_Chunked_AllFail(t *testing.T) {
	client := mocks.NewMockModelClient("claude")
	client.On("Complete", mock.Anything, mock.Anything).
		Return(nil, &llm.StatusError{Provider: "claude", StatusCode: 401})

	doc := pagedDoc(1, 2, 3, 4, 5, 6)
	items := rawItems(70, func(i int) int { return i/12 + 1 })

	n := newNormalizer(t, normalize.Options{
		Chunking: normalize.ChunkOptions{ItemThreshold: 60, PagesPerChunk: 3},
	}, client)
	_, err := n.Normalize(context.Background(), normalize.Request{Document: doc, Items: items})

	assert.True(t, errors.Is(err, domain.ErrModelTransport))
}

func TestNormalizer_DuplicateLineNumbersAcrossChunks(t *testing.T) {
	client := mocks.NewMockModelClient("claude")
	client.On("Complete", mock.Anything, mock.Anything).
		Return(func(ctx context.Context, req port.CompletionRequest) *port.CompletionResponse {
			return response(`{"line_items":[{"line_number":1,"description":"dup"}]}`)
		}, nil)

	doc := pagedDoc(1, 2)
	items := rawItems(2, func(i int) int { return i + 1 })

	n := newNormalizer(t, normalize.Options{
		Chunking: normalize.ChunkOptions{ItemThreshold: 1, PagesPerChunk: 1},
	}, client)
	res, err := n.Normalize(context.Background(), normalize.Request{Document: doc, Items: items})

	require.NoError(t, err)
	assert.Len(t, res.Items, 1)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "model returned line 1 twice")
}
