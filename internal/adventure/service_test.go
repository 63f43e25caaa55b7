package adventure

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/adventure/internal/ai"
	"github.com/hitoshi/adventure/internal/model"
	"github.com/hitoshi/adventure/internal/ratelimit"
)

// --- テスト用フェイク ---

type fakeLimiter struct {
	results map[model.APIType]ratelimit.Result
	calls   []model.APIType
}

func allowAll() *fakeLimiter {
	return &fakeLimiter{results: map[model.APIType]ratelimit.Result{}}
}

func (f *fakeLimiter) Check(ctx context.Context, userID int64, apiType model.APIType) ratelimit.Result {
	f.calls = append(f.calls, apiType)
	if userID <= 0 {
		return ratelimit.Result{ErrorType: ratelimit.ErrorTypeAuthenticationRequired}
	}
	if r, ok := f.results[apiType]; ok {
		return r
	}
	return ratelimit.Result{Success: true, Limit: 100, Remaining: 99}
}

type fakeText struct {
	raw       string
	err       error
	gotPrompt string
	gotConfig ai.ModelConfig
	gotParams *ai.GenerationParams
	calls     int
}

func (f *fakeText) CallAIForAdventure(ctx context.Context, prompt string, cfg ai.ModelConfig, overrides *ai.GenerationParams) (string, error) {
	f.calls++
	f.gotPrompt = prompt
	f.gotConfig = cfg
	f.gotParams = overrides
	return f.raw, f.err
}

type fakeImages struct {
	img *ai.Image
	err error
}

func (f *fakeImages) Generate(ctx context.Context, prompt string) (*ai.Image, error) {
	return f.img, f.err
}

type fakeSpeech struct {
	audio []byte
	err   error
}

func (f *fakeSpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f.audio, f.err
}

type fakeStore struct {
	persistent bool
	err        error
	keys       []string
}

func (f *fakeStore) Save(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "https://cdn.example.com/" + key, nil
}

func (f *fakeStore) Persistent() bool { return f.persistent }

type aiCall struct {
	kind    string
	outcome string
}

type recordingMetrics struct {
	mu          sync.Mutex
	aiCalls     []aiCall
	validations []string
}

func (m *recordingMetrics) RecordRateLimitCheck(string, string) {}
func (m *recordingMetrics) RecordRateLimitInternalError(string) {}
func (m *recordingMetrics) RecordHTTPStatus(int) {}
func (m *recordingMetrics) RecordAIRequest(kind, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aiCalls = append(m.aiCalls, aiCall{kind, outcome})
}
func (m *recordingMetrics) RecordValidationFailure(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validations = append(m.validations, kind)
}

type serviceFixture struct {
	svc     *Service
	limiter *fakeLimiter
	text    *fakeText
	images  *fakeImages
	speech  *fakeSpeech
	store   *fakeStore
	metrics *recordingMetrics
}

func newFixture() *serviceFixture {
	f := &serviceFixture{
		limiter: allowAll(),
		text:    &fakeText{raw: validNode},
		images:  &fakeImages{img: &ai.Image{Data: []byte("png"), ContentType: "image/png"}},
		speech:  &fakeSpeech{audio: []byte("mp3")},
		store:   &fakeStore{},
		metrics: &recordingMetrics{},
	}
	f.svc = NewService(f.limiter, f.text, f.images, f.speech, f.store, nil, f.metrics,
		slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Options{TextModel: "gemini-test", DefaultLanguage: "en"})
	return f
}

func assertAPIError(t *testing.T, err error, code string) *model.APIError {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v (%T), want *model.APIError", err, err)
	}
	if apiErr.Code != code {
		t.Fatalf("code = %q, want %q", apiErr.Code, code)
	}
	return apiErr
}

// --- GenerateNode ---

func TestGenerateNode_Success(t *testing.T) {
	f := newFixture()

	node, err := f.svc.GenerateNode(context.Background(), 7, NodeRequest{
		History:     []model.StoryHistoryItem{{Passage: "You stand at the cave.", Choice: "Enter", Summary: "At the cave."}},
		Genre:       "horror",
		VisualStyle: "ink wash",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(node.Choices) != 3 {
		t.Errorf("len(Choices) = %d", len(node.Choices))
	}
	if f.text.gotConfig.Model != "gemini-test" || f.text.gotConfig.ResponseMIMEType != "application/json" {
		t.Errorf("model config = %+v", f.text.gotConfig)
	}
	if !strings.Contains(f.text.gotPrompt, "Previous Summary:\nAt the cave.") {
		t.Errorf("prompt missing summary section:\n%s", f.text.gotPrompt)
	}
	if len(f.limiter.calls) != 1 || f.limiter.calls[0] != model.APITypeText {
		t.Errorf("limiter calls = %v, want [text]", f.limiter.calls)
	}
	if len(f.metrics.aiCalls) != 1 || f.metrics.aiCalls[0] != (aiCall{kindStory, outcomeSuccess}) {
		t.Errorf("ai metrics = %+v", f.metrics.aiCalls)
	}
}

func TestGenerateNode_SanitizesAndDropsServerFields(t *testing.T) {
	f := newFixture()
	f.text.raw = `{"passage":"<b>Bold</b> move<script>alert(1)</script>","choices":[{"text":"<i>Run</i>"}],"imageUrl":"javascript:alert(1)","audioBase64":"AAAA"}`

	node, err := f.svc.GenerateNode(context.Background(), 1, NodeRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if node.Passage != "Bold move" {
		t.Errorf("Passage = %q", node.Passage)
	}
	if node.Choices[0].Text != "Run" {
		t.Errorf("Choices[0].Text = %q", node.Choices[0].Text)
	}
	if node.ImageURL != "" || node.AudioBase64 != "" {
		t.Errorf("server-owned fields should be cleared: %+v", node)
	}
}

func TestGenerateNode_MarkupOnlyChoiceIsInvalid(t *testing.T) {
	f := newFixture()
	f.text.raw = `{"passage":"p","choices":[{"text":"<script>x</script>"}]}`

	_, err := f.svc.GenerateNode(context.Background(), 1, NodeRequest{})
	assertAPIError(t, err, model.ErrCodeAIResponseInvalid)
}

func TestGenerateNode_Unauthenticated(t *testing.T) {
	f := newFixture()

	_, err := f.svc.GenerateNode(context.Background(), 0, NodeRequest{})
	assertAPIError(t, err, model.ErrCodeAuthenticationRequired)
	if f.text.calls != 0 {
		t.Error("AI backend must not be called when unauthenticated")
	}
}

func TestGenerateNode_RateLimited(t *testing.T) {
	f := newFixture()
	reset := time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC)
	f.limiter.results[model.APITypeText] = ratelimit.Result{Limit: 100, Reset: &reset, ErrorType: ratelimit.ErrorTypeRateLimitExceeded}

	_, err := f.svc.GenerateNode(context.Background(), 3, NodeRequest{})
	apiErr := assertAPIError(t, err, model.ErrCodeRateLimitExceeded)
	if apiErr.ResetAt == nil || !apiErr.ResetAt.Equal(reset) {
		t.Errorf("ResetAt = %v, want %v", apiErr.ResetAt, reset)
	}
	if f.text.calls != 0 {
		t.Error("AI backend must not be called when rate limited")
	}
}

func TestGenerateNode_FailOpenProceeds(t *testing.T) {
	f := newFixture()
	f.limiter.results[model.APITypeText] = ratelimit.Result{Success: true, Limit: 100, Remaining: 100, ErrorType: ratelimit.ErrorTypeInternalError}

	if _, err := f.svc.GenerateNode(context.Background(), 3, NodeRequest{}); err != nil {
		t.Fatalf("expected fail-open to proceed, got %v", err)
	}
}

func TestGenerateNode_BackendFailure(t *testing.T) {
	f := newFixture()
	f.text.err = errors.New("googleapi: 503 backend overloaded at 10.0.0.5")

	_, err := f.svc.GenerateNode(context.Background(), 1, NodeRequest{})
	apiErr := assertAPIError(t, err, model.ErrCodeAIGenerationFailed)
	if strings.Contains(apiErr.Message, "10.0.0.5") {
		t.Errorf("backend details leaked: %q", apiErr.Message)
	}
	if f.metrics.aiCalls[0] != (aiCall{kindStory, outcomeError}) {
		t.Errorf("ai metrics = %+v", f.metrics.aiCalls)
	}
}

func TestGenerateNode_EmptyResponse(t *testing.T) {
	f := newFixture()
	f.text.err = ai.ErrNoContent

	_, err := f.svc.GenerateNode(context.Background(), 1, NodeRequest{})
	assertAPIError(t, err, model.ErrCodeAIEmptyResponse)
	if f.metrics.aiCalls[0] != (aiCall{kindStory, outcomeEmpty}) {
		t.Errorf("ai metrics = %+v", f.metrics.aiCalls)
	}
}

func TestGenerateNode_InvalidResponse(t *testing.T) {
	f := newFixture()
	f.text.raw = `{"passage":"p","choices":[],"secret":"x"}`

	_, err := f.svc.GenerateNode(context.Background(), 1, NodeRequest{})
	assertAPIError(t, err, model.ErrCodeAIResponseInvalid)
	if len(f.metrics.validations) != 1 || f.metrics.validations[0] != kindStory {
		t.Errorf("validation metrics = %v", f.metrics.validations)
	}
}

func TestGenerateNode_TooMuchHistory(t *testing.T) {
	f := newFixture()

	_, err := f.svc.GenerateNode(context.Background(), 1, NodeRequest{History: make([]model.StoryHistoryItem, MaxHistoryItems+1)})
	assertAPIError(t, err, model.ErrCodeInvalidRequest)
	if len(f.limiter.calls) != 0 {
		t.Error("quota must not be consumed for an invalid request")
	}
}

func TestGenerateNode_LanguageFallsBackToDefault(t *testing.T) {
	f := newFixture()
	f.svc.opts.DefaultLanguage = "ja"

	if _, err := f.svc.GenerateNode(context.Background(), 1, NodeRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(f.text.gotPrompt, "Japanese") {
		t.Errorf("expected Japanese language instruction in prompt:\n%s", f.text.gotPrompt)
	}
}

// --- GenerateStartingScenarios ---

func TestGenerateStartingScenarios(t *testing.T) {
	f := newFixture()
	f.text.raw = `[{"text":"<em>A</em> door","genre":"fantasy","tone":"bright","visualStyle":"pixel art"}]`
	f.svc.opts.ScenarioOverrides = &ai.GenerationParams{Temperature: ai.Float32(1.2)}

	scenarios, err := f.svc.GenerateStartingScenarios(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scenarios) != 1 || scenarios[0].Text != "A door" {
		t.Errorf("scenarios = %+v", scenarios)
	}
	if f.text.gotParams == nil || *f.text.gotParams.Temperature != 1.2 {
		t.Errorf("overrides not passed: %+v", f.text.gotParams)
	}
	if !strings.Contains(f.text.gotPrompt, "exactly 4") {
		t.Errorf("unexpected prompt:\n%s", f.text.gotPrompt)
	}
}

func TestGenerateStartingScenarios_Invalid(t *testing.T) {
	f := newFixture()
	f.text.raw = validNode

	_, err := f.svc.GenerateStartingScenarios(context.Background(), 1, "en")
	assertAPIError(t, err, model.ErrCodeAIResponseInvalid)
	if len(f.metrics.validations) != 1 || f.metrics.validations[0] != kindScenarios {
		t.Errorf("validation metrics = %v", f.metrics.validations)
	}
}

// --- GenerateImage ---

func TestGenerateImage_SavesToStore(t *testing.T) {
	f := newFixture()

	url, err := f.svc.GenerateImage(context.Background(), 42, "a misty forest")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.store.keys) != 1 {
		t.Fatalf("store keys = %v", f.store.keys)
	}
	key := f.store.keys[0]
	if !strings.HasPrefix(key, "images/42/") || !strings.HasSuffix(key, ".png") {
		t.Errorf("key = %q", key)
	}
	if url != "https://cdn.example.com/"+key {
		t.Errorf("url = %q", url)
	}
	if f.limiter.calls[0] != model.APITypeImage {
		t.Errorf("limiter calls = %v, want [image]", f.limiter.calls)
	}
}

func TestGenerateImage_DataURLFallback(t *testing.T) {
	f := newFixture()
	svc := NewService(f.limiter, f.text, f.images, f.speech, nil, nil, nil, nil, Options{})

	url, err := svc.GenerateImage(context.Background(), 1, "p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "data:image/png;base64,"+base64.StdEncoding.EncodeToString([]byte("png")) {
		t.Errorf("url = %q", url)
	}
}

func TestGenerateImage_Errors(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture()
		svc := NewService(f.limiter, f.text, nil, nil, f.store, nil, nil, nil, Options{})
		_, err := svc.GenerateImage(context.Background(), 1, "p")
		assertAPIError(t, err, model.ErrCodeMediaUnavailable)
	})
	t.Run("empty prompt", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.GenerateImage(context.Background(), 1, "  ")
		assertAPIError(t, err, model.ErrCodeInvalidRequest)
	})
	t.Run("prompt too long", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.GenerateImage(context.Background(), 1, strings.Repeat("あ", MaxImagePromptRunes+1))
		assertAPIError(t, err, model.ErrCodeInvalidRequest)
	})
	t.Run("unauthenticated", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.GenerateImage(context.Background(), 0, "p")
		assertAPIError(t, err, model.ErrCodeAuthenticationRequired)
	})
	t.Run("backend", func(t *testing.T) {
		f := newFixture()
		f.images.err = errors.New("boom")
		_, err := f.svc.GenerateImage(context.Background(), 1, "p")
		assertAPIError(t, err, model.ErrCodeAIGenerationFailed)
	})
	t.Run("no image", func(t *testing.T) {
		f := newFixture()
		f.images.err = ai.ErrNoContent
		_, err := f.svc.GenerateImage(context.Background(), 1, "p")
		assertAPIError(t, err, model.ErrCodeAIEmptyResponse)
	})
	t.Run("store", func(t *testing.T) {
		f := newFixture()
		f.store.err = errors.New("s3 down")
		_, err := f.svc.GenerateImage(context.Background(), 1, "p")
		assertAPIError(t, err, model.ErrCodeInternal)
	})
}

// --- GenerateSpeech ---

func TestGenerateSpeech_ReturnsBase64(t *testing.T) {
	f := newFixture()

	speech, err := f.svc.GenerateSpeech(context.Background(), 5, "Once upon a time")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if speech.AudioBase64 != base64.StdEncoding.EncodeToString([]byte("mp3")) {
		t.Errorf("AudioBase64 = %q", speech.AudioBase64)
	}
	if speech.AudioURL != "" {
		t.Errorf("AudioURL = %q, want empty for non-persistent store", speech.AudioURL)
	}
	if f.limiter.calls[0] != model.APITypeTTS {
		t.Errorf("limiter calls = %v, want [tts]", f.limiter.calls)
	}
}

func TestGenerateSpeech_PersistsWhenStoreIsPersistent(t *testing.T) {
	f := newFixture()
	f.store.persistent = true

	speech, err := f.svc.GenerateSpeech(context.Background(), 5, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(speech.AudioURL, "https://cdn.example.com/audio/5/") || !strings.HasSuffix(speech.AudioURL, ".mp3") {
		t.Errorf("AudioURL = %q", speech.AudioURL)
	}
}

func TestGenerateSpeech_StoreFailureStillReturnsAudio(t *testing.T) {
	f := newFixture()
	f.store.persistent = true
	f.store.err = errors.New("s3 down")

	speech, err := f.svc.GenerateSpeech(context.Background(), 5, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if speech.AudioBase64 == "" || speech.AudioURL != "" {
		t.Errorf("speech = %+v", speech)
	}
}

func TestGenerateSpeech_Errors(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture()
		svc := NewService(f.limiter, f.text, f.images, nil, f.store, nil, nil, nil, Options{})
		_, err := svc.GenerateSpeech(context.Background(), 1, "x")
		assertAPIError(t, err, model.ErrCodeMediaUnavailable)
	})
	t.Run("too long", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.GenerateSpeech(context.Background(), 1, strings.Repeat("a", MaxSpeechTextRunes+1))
		assertAPIError(t, err, model.ErrCodeInvalidRequest)
	})
	t.Run("rate limited", func(t *testing.T) {
		f := newFixture()
		f.limiter.results[model.APITypeTTS] = ratelimit.Result{ErrorType: ratelimit.ErrorTypeRateLimitExceeded}
		_, err := f.svc.GenerateSpeech(context.Background(), 1, "x")
		assertAPIError(t, err, model.ErrCodeRateLimitExceeded)
	})
	t.Run("backend", func(t *testing.T) {
		f := newFixture()
		f.speech.err = errors.New("boom")
		_, err := f.svc.GenerateSpeech(context.Background(), 1, "x")
		assertAPIError(t, err, model.ErrCodeAIGenerationFailed)
	})
}
