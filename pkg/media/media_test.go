package media

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat_Streams(t *testing.T) {
	tests := []struct {
		name        string
		f           Format
		video       bool
		audio       bool
		progressive bool
	}{
		{"progressive", Format{VideoCodec: "avc1.64001F", AudioCodec: "mp4a.40.2"}, true, true, true},
		{"video only", Format{VideoCodec: "vp9", AudioCodec: "none"}, true, false, false},
		{"audio only", Format{VideoCodec: "none", AudioCodec: "opus"}, false, true, false},
		{"unknown codecs", Format{}, false, false, false},
		{"upper NONE", Format{VideoCodec: "NONE", AudioCodec: "aac"}, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.video, tt.f.HasVideo())
			assert.Equal(t, tt.audio, tt.f.HasAudio())
			assert.Equal(t, tt.progressive, tt.f.Progressive())
		})
	}
}

func TestSortFormats(t *testing.T) {
	formats := []Format{
		{ID: "a", Height: 360, FPS: 30},
		{ID: "b", Height: 1080, FPS: 30},
		{ID: "c", Height: 1080, FPS: 60},
		{ID: "d"},
		{ID: "e", Height: 720, FPS: 30},
	}
	SortFormats(formats)

	ids := make([]string, 0, len(formats))
	for _, f := range formats {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{"c", "b", "e", "a", "d"}, ids)
}

func TestProbeResult_FindFormat(t *testing.T) {
	r := &ProbeResult{Formats: []Format{{ID: "22"}, {ID: "137"}}}

	f, ok := r.FindFormat("137")
	require.True(t, ok)
	assert.Equal(t, "137", f.ID)

	_, ok = r.FindFormat("999")
	assert.False(t, ok)

	var nilResult *ProbeResult
	_, ok = nilResult.FindFormat("22")
	assert.False(t, ok)
}

func TestFetchError(t *testing.T) {
	cause := errors.New("exit status 1")
	err := &FetchError{Message: "ERROR: HTTP Error 403: Forbidden", Err: cause}

	assert.Equal(t, "ERROR: HTTP Error 403: Forbidden", err.Error())
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, cause)

	bare := &FetchError{}
	assert.Equal(t, ErrFetchFailed.Error(), bare.Error())
	assert.ErrorIs(t, bare, ErrFetchFailed)
}

func TestProbeError(t *testing.T) {
	err := &ProbeError{URL: "https://example.com/v", Err: errors.New("boom")}
	assert.True(t, IsProbeFailed(err))
	assert.Contains(t, err.Error(), "https://example.com/v")
	assert.Contains(t, err.Error(), "boom")
}
