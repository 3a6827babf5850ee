package stream

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/casualjim/relay/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, d *Decoder) ([]messages.Delta, error) {
	t.Helper()
	var out []messages.Delta
	for delta, err := range d.All() {
		if err != nil {
			return out, err
		}
		out = append(out, delta)
	}
	return out, nil
}

func contents(deltas []messages.Delta) string {
	var b strings.Builder
	for _, d := range deltas {
		if !d.IsComplete {
			b.WriteString(d.Content)
		}
	}
	return b.String()
}

const openaiStream = "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"Hé\"}}]}\n\n" +
	": keep-alive\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"llo \"}}]}\n\n" +
	"data:{\"choices\":[{\"delta\":{\"content\":\"世界\"}}]}\r\n\r\n" +
	"data: [DONE]\n\n"

func TestDecoder_OpenAI(t *testing.T) {
	d := NewDecoder(strings.NewReader(openaiStream), OpenAI)
	deltas, err := collect(t, d)
	require.NoError(t, err)

	require.Len(t, deltas, 4)
	assert.Equal(t, "Hé", deltas[0].Content)
	assert.Equal(t, "llo ", deltas[1].Content)
	assert.Equal(t, "世界", deltas[2].Content)
	assert.True(t, deltas[3].IsComplete)
	assert.False(t, deltas[3].Error)
	assert.Equal(t, 0, d.Skipped())

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_ChunkingInvariance(t *testing.T) {
	input := []byte(openaiStream)
	want, err := collect(t, NewDecoder(bytes.NewReader(input), OpenAI))
	require.NoError(t, err)

	for i := 1; i < len(input); i++ {
		r := io.MultiReader(bytes.NewReader(input[:i]), bytes.NewReader(input[i:]))
		got, err := collect(t, NewDecoder(r, OpenAI))
		require.NoError(t, err, "split at %d", i)
		require.Equal(t, want, got, "split at %d", i)
	}

	t.Run("one byte at a time", func(t *testing.T) {
		got, err := collect(t, NewDecoder(iotest.OneByteReader(bytes.NewReader(input)), OpenAI))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("tiny read size", func(t *testing.T) {
		got, err := collect(t, NewDecoder(bytes.NewReader(input), OpenAI, ReadSize(3)))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}

func TestDecoder_MultiByteSplit(t *testing.T) {
	frame := []byte("data: {\"content\":\"日本\"}\n")
	cut := bytes.Index(frame, []byte("日")) + 1
	r := io.MultiReader(
		bytes.NewReader(frame[:cut]),
		bytes.NewReader(frame[cut:]),
		strings.NewReader("data: {\"isComplete\":true}\n"),
	)

	deltas, err := collect(t, NewDecoder(r, Relay))
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	assert.Equal(t, "日本", deltas[0].Content)
	assert.True(t, deltas[1].IsComplete)
}

func TestDecoder_SkipsMalformedFrames(t *testing.T) {
	input := "data: {\"content\":\"a\"}\n" +
		"data: {not json\n" +
		"data: [1,2]\n" +
		"event: ping\n" +
		"data: {\"content\":\"b\"}\n" +
		"data: [DONE]\n"

	d := NewDecoder(strings.NewReader(input), Relay)
	deltas, err := collect(t, d)
	require.NoError(t, err)
	assert.Equal(t, "ab", contents(deltas))
	assert.Equal(t, 2, d.Skipped())
}

func TestDecoder_TerminalConventions(t *testing.T) {
	t.Run("done sentinel", func(t *testing.T) {
		deltas, err := collect(t, NewDecoder(strings.NewReader("data: {\"content\":\"x\"}\ndata: [DONE]\n"), Relay))
		require.NoError(t, err)
		require.Len(t, deltas, 2)
		assert.True(t, deltas[1].IsComplete)
		assert.Empty(t, deltas[1].Content)
	})

	t.Run("payload flag with content", func(t *testing.T) {
		deltas, err := collect(t, NewDecoder(strings.NewReader("data: {\"content\":\"x\"}\ndata: {\"content\":\"y\",\"isComplete\":true}\n"), Relay))
		require.NoError(t, err)
		require.Len(t, deltas, 3)
		assert.Equal(t, "y", deltas[1].Content)
		assert.False(t, deltas[1].IsComplete)
		assert.True(t, deltas[2].IsComplete)
	})

	t.Run("first terminal wins", func(t *testing.T) {
		input := "data: {\"isComplete\":true}\ndata: {\"content\":\"late\"}\ndata: [DONE]\n"
		deltas, err := collect(t, NewDecoder(strings.NewReader(input), Relay))
		require.NoError(t, err)
		require.Len(t, deltas, 1)
		assert.True(t, deltas[0].IsComplete)
	})

	t.Run("error payload", func(t *testing.T) {
		input := "data: {\"content\":\"partial\"}\ndata: {\"content\":\"boom\",\"isComplete\":true,\"error\":true}\n"
		deltas, err := collect(t, NewDecoder(strings.NewReader(input), Relay))
		require.NoError(t, err)
		require.Len(t, deltas, 2)
		assert.True(t, deltas[1].Error)
		assert.True(t, deltas[1].IsComplete)
		assert.Equal(t, "boom", deltas[1].Content)
	})

	t.Run("final line without newline", func(t *testing.T) {
		deltas, err := collect(t, NewDecoder(strings.NewReader("data: {\"content\":\"x\"}\ndata: [DONE]"), Relay))
		require.NoError(t, err)
		require.Len(t, deltas, 2)
	})
}

func TestDecoder_Truncated(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: {\"content\":\"par\"}\ndata: {\"content\":\"ti"), Relay)
	deltas, err := collect(t, d)
	assert.ErrorIs(t, err, ErrTruncated)
	assert.Equal(t, "par", contents(deltas))
	assert.Equal(t, 1, d.Skipped())

	_, err = NewDecoder(strings.NewReader(""), Relay).Next()
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecoder_ReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("data: {\"content\":\"a\"}\n"), iotest.ErrReader(boom))

	deltas, err := collect(t, NewDecoder(r, Relay))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "a", contents(deltas))
}

func TestDecoder_FrameTooLarge(t *testing.T) {
	input := "data: {\"content\":\"" + strings.Repeat("x", 64) + "\"}\n"
	_, err := collect(t, NewDecoder(strings.NewReader(input), Relay, ReadSize(8), MaxFrameSize(16)))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecoder_InvalidUTF8IsReplaced(t *testing.T) {
	input := "data: {\"content\":\"a\xffb\"}\ndata: [DONE]\n"
	deltas, err := collect(t, NewDecoder(strings.NewReader(input), Relay))
	require.NoError(t, err)
	assert.Equal(t, "a�b", deltas[0].Content)
}

func TestDecoder_NDJSON(t *testing.T) {
	input := "{\"message\":{\"content\":\"Hi\"},\"done\":false}\n" +
		"{\"message\":{\"content\":\" there\"},\"done\":false}\n" +
		"{\"message\":{\"content\":\"\"},\"done\":true}\n"

	deltas, err := collect(t, NewDecoder(strings.NewReader(input), Ollama, NDJSON(true)))
	require.NoError(t, err)
	assert.Equal(t, "Hi there", contents(deltas))
	assert.True(t, deltas[len(deltas)-1].IsComplete)
}

func TestDecoder_AllStopsEarly(t *testing.T) {
	d := NewDecoder(strings.NewReader(openaiStream), OpenAI)
	for delta, err := range d.All() {
		require.NoError(t, err)
		assert.Equal(t, "Hé", delta.Content)
		break
	}
	next, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "llo ", next.Content)
}
