package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	name string
	out  string
	err  error
	hits int
}

func (s *stubCompleter) Complete(context.Context, Request) (string, error) {
	s.hits++
	return s.out, s.err
}

func (s *stubCompleter) Name() string { return s.name }

func TestFallbackUsesPrimaryFirst(t *testing.T) {
	primary := &stubCompleter{name: "a", out: "primary"}
	secondary := &stubCompleter{name: "b", out: "secondary"}
	f := NewFallback(primary, secondary)

	out, err := f.Complete(context.Background(), Request{User: "q"})
	require.NoError(t, err)
	assert.Equal(t, "primary", out)
	assert.Equal(t, 0, secondary.hits)
}

func TestFallbackOnPrimaryError(t *testing.T) {
	primary := &stubCompleter{name: "a", err: errors.New("rate limited")}
	secondary := &stubCompleter{name: "b", out: "secondary"}
	f := NewFallback(primary, secondary)

	out, err := f.Complete(context.Background(), Request{User: "q"})
	require.NoError(t, err)
	assert.Equal(t, "secondary", out)
}

func TestFallbackAllFail(t *testing.T) {
	f := NewFallback(
		&stubCompleter{name: "a", err: errors.New("down")},
		&stubCompleter{name: "b", err: errors.New("also down")},
	)
	_, err := f.Complete(context.Background(), Request{User: "q"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFallbackSkipsNil(t *testing.T) {
	f := NewFallback(nil, &stubCompleter{name: "b", out: "ok"})
	out, err := f.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestNoopIsUnavailable(t *testing.T) {
	_, err := Noop{}.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDecodeStrict(t *testing.T) {
	type resp struct {
		Verdict    string `json:"verdict"`
		Confidence int    `json:"confidence"`
	}

	t.Run("plain json", func(t *testing.T) {
		var out resp
		require.NoError(t, DecodeStrict(`{"verdict":"supported","confidence":80}`, &out))
		assert.Equal(t, "supported", out.Verdict)
	})

	t.Run("fenced json", func(t *testing.T) {
		var out resp
		raw := "```json\n{\"verdict\":\"uncertain\",\"confidence\":40}\n```"
		require.NoError(t, DecodeStrict(raw, &out))
		assert.Equal(t, "uncertain", out.Verdict)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		var out resp
		err := DecodeStrict(`{"verdict":"supported","confidence":80,"extra":1}`, &out)
		assert.Error(t, err)
	})

	t.Run("trailing prose rejected", func(t *testing.T) {
		var out resp
		err := DecodeStrict(`{"verdict":"supported","confidence":80} hope this helps!`, &out)
		assert.Error(t, err)
	})
}
