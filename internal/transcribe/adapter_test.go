package transcribe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockEngine implements Engine for testing.
type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Probe(ctx context.Context, model ModelSize) (Capabilities, error) {
	args := m.Called(ctx, model)
	return args.Get(0).(Capabilities), args.Error(1)
}

func (m *mockEngine) Transcribe(ctx context.Context, req Request) (*RawResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RawResult), args.Error(1)
}

// mockPreparer implements Preparer for testing.
type mockPreparer struct {
	mock.Mock
	cleaned int
}

func (m *mockPreparer) ConvertForSpeech(ctx context.Context, src string) (string, func(), error) {
	args := m.Called(ctx, src)
	if err := args.Error(1); err != nil {
		return "", nil, err
	}
	return args.String(0), func() { m.cleaned++ }, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseModelSize(t *testing.T) {
	m, err := ParseModelSize(" Small ")
	require.NoError(t, err)
	assert.Equal(t, ModelSmall, m)

	_, err = ParseModelSize("huge")
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func TestLanguageCode(t *testing.T) {
	assert.Equal(t, "pt", LanguageCode("pt-BR"))
	assert.Equal(t, "en", LanguageCode("en-US"))
	assert.Equal(t, "ja", LanguageCode("ja-JP"))
	assert.Equal(t, "nl", LanguageCode("nl"))
}

func TestAdapter_NestedWords(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Probe", mock.Anything, ModelSmall).Return(Capabilities{WordTimestamps: true}, nil).Once()
	engine.On("Transcribe", mock.Anything, mock.MatchedBy(func(r Request) bool {
		return r.AudioPath == "/tmp/speech.wav" && r.Language == "pt" && r.WordTimestamps
	})).Return(&RawResult{
		Text: " Olá mundo. Tudo bem? ",
		Segments: []RawSegment{
			{ID: 0, Start: 0, End: 1.2, Text: " Olá mundo.", Words: []RawWord{
				{Word: " Olá", Start: 0, End: 0.5}, {Word: " mundo.", Start: 0.5, End: 1.2},
			}},
			{ID: 1, Start: 1.5, End: 2.4, Text: " Tudo bem?", Words: []RawWord{
				{Word: " Tudo", Start: 1.5, End: 1.9}, {Word: " bem?", Start: 1.9, End: 2.4},
			}},
		},
	}, nil).Twice()

	prep := &mockPreparer{}
	prep.On("ConvertForSpeech", mock.Anything, "/uploads/a.mp3").Return("/tmp/speech.wav", nil)

	a := NewAdapter(engine, WithPreparer(prep), WithLogger(quietLogger()))

	res, err := a.Transcribe(context.Background(), "/uploads/a.mp3", "pt-BR", ModelSmall)
	require.NoError(t, err)

	assert.Equal(t, "Olá mundo. Tudo bem?", res.FullText)
	assert.Equal(t, "pt", res.Language)
	assert.Equal(t, ModelSmall, res.Model)
	assert.True(t, res.WordTimestamps)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, "Olá mundo.", res.Segments[0].Text)
	assert.Equal(t, []Word{{Word: "Tudo", Start: 1.5, End: 1.9}, {Word: "bem?", Start: 1.9, End: 2.4}}, res.Segments[1].Words)
	assert.Equal(t, 1, prep.cleaned)

	// Capabilities are probed once per model.
	_, err = a.Transcribe(context.Background(), "/uploads/a.mp3", "pt-BR", ModelSmall)
	require.NoError(t, err)
	engine.AssertExpectations(t)
	assert.Equal(t, 2, prep.cleaned)
}

func TestAdapter_TopLevelWords(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Probe", mock.Anything, ModelBase).Return(Capabilities{WordTimestamps: true}, nil)
	engine.On("Transcribe", mock.Anything, mock.Anything).Return(&RawResult{
		Segments: []RawSegment{
			{ID: 0, Start: 0, End: 1, Text: "um dois"},
			{ID: 1, Start: 2, End: 3, Text: "três"},
		},
		Words: []RawWord{
			{Word: "um", Start: 0, End: 0.4},
			{Word: "dois", Start: 0.5, End: 0.9},
			{Word: "três", Start: 2.1, End: 2.6},
		},
	}, nil)

	res, err := NewAdapter(engine, WithLogger(quietLogger())).Transcribe(context.Background(), "a.wav", "pt-BR", ModelBase)
	require.NoError(t, err)

	assert.Equal(t, "um dois três", res.FullText)
	require.Len(t, res.Segments, 2)
	assert.Len(t, res.Segments[0].Words, 2)
	assert.Len(t, res.Segments[1].Words, 1)
	assert.True(t, res.WordTimestamps)
}

func TestAdapter_NoWords(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Probe", mock.Anything, ModelTiny).Return(Capabilities{WordTimestamps: false}, nil)
	engine.On("Transcribe", mock.Anything, mock.MatchedBy(func(r Request) bool {
		return !r.WordTimestamps
	})).Return(&RawResult{
		Text:     "bom dia",
		Duration: 3.5,
	}, nil)

	res, err := NewAdapter(engine, WithLogger(quietLogger())).Transcribe(context.Background(), "a.wav", "pt-BR", ModelTiny)
	require.NoError(t, err)

	assert.False(t, res.WordTimestamps)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, Segment{ID: 0, Start: 0, End: 3.5, Text: "bom dia"}, res.Segments[0])
	assert.Empty(t, res.Words())
}

func TestAdapter_ModelNotFound(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Probe", mock.Anything, ModelLarge).Return(Capabilities{}, ErrModelNotFound)

	_, err := NewAdapter(engine, WithLogger(quietLogger())).Transcribe(context.Background(), "a.wav", "pt-BR", ModelLarge)

	assert.ErrorIs(t, err, ErrModelNotFound)
	assert.ErrorIs(t, err, ErrTranscriptionFailed)
	var ferr *FailedError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, ModelLarge, ferr.Model)
	engine.AssertNotCalled(t, "Transcribe", mock.Anything, mock.Anything)
}

func TestAdapter_EngineFailureIsNotRetried(t *testing.T) {
	cause := errors.New("engine crashed")
	engine := &mockEngine{}
	engine.On("Probe", mock.Anything, ModelSmall).Return(Capabilities{}, nil)
	engine.On("Transcribe", mock.Anything, mock.Anything).Return(nil, cause).Once()

	_, err := NewAdapter(engine, WithLogger(quietLogger())).Transcribe(context.Background(), "a.wav", "en-US", ModelSmall)

	assert.ErrorIs(t, err, ErrTranscriptionFailed)
	assert.ErrorIs(t, err, cause)
	engine.AssertNumberOfCalls(t, "Transcribe", 1)
}

func TestAdapter_PreparerFailureSkipsEngine(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Probe", mock.Anything, ModelSmall).Return(Capabilities{}, nil)
	prep := &mockPreparer{}
	prep.On("ConvertForSpeech", mock.Anything, "a.ogg").Return("", errors.New("codec: ffmpeg executable not available"))

	_, err := NewAdapter(engine, WithPreparer(prep), WithLogger(quietLogger())).
		Transcribe(context.Background(), "a.ogg", "pt-BR", ModelSmall)

	assert.ErrorIs(t, err, ErrTranscriptionFailed)
	engine.AssertNotCalled(t, "Transcribe", mock.Anything, mock.Anything)
}

func TestAdapter_Timeout(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Probe", mock.Anything, ModelSmall).Return(Capabilities{}, nil)
	engine.On("Transcribe", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, context.DeadlineExceeded)

	a := NewAdapter(engine, WithTimeout(20*time.Millisecond), WithLogger(quietLogger()))
	_, err := a.Transcribe(context.Background(), "a.wav", "pt-BR", ModelSmall)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, ErrTranscriptionFailed)
}

func TestAdapter_InvalidModel(t *testing.T) {
	_, err := NewAdapter(&mockEngine{}).Transcribe(context.Background(), "a.wav", "pt-BR", ModelSize("xl"))
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func TestResult_WordRange(t *testing.T) {
	r := &Result{Segments: []Segment{
		{Start: 0, End: 1, Words: []Word{{"a", 0, 0.3}, {"b", 0.4, 0.9}}},
		{Start: 2, End: 3, Words: []Word{{"c", 2.1, 2.8}}},
	}}

	start, end, err := r.WordRange(1, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, start, 1e-9)
	assert.InDelta(t, 2.8, end, 1e-9)

	_, _, err = r.WordRange(2, 1)
	assert.ErrorIs(t, err, ErrWordRange)
	_, _, err = r.WordRange(0, 3)
	assert.ErrorIs(t, err, ErrWordRange)
	_, _, err = (&Result{}).WordRange(0, 0)
	assert.ErrorIs(t, err, ErrWordRange)
}

func TestResult_CloneIsDeep(t *testing.T) {
	r := &Result{Segments: []Segment{{Text: "x", Words: []Word{{"x", 0, 1}}}}}

	c := r.Clone()
	c.Segments[0].Words[0].Word = "y"
	c.Segments[0].Text = "y"

	assert.Equal(t, "x", r.Segments[0].Words[0].Word)
	assert.Equal(t, "x", r.Segments[0].Text)
}
