package archive_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abjtutorial/tutorbot/internal/archive"
	"github.com/abjtutorial/tutorbot/internal/domain"
	"github.com/abjtutorial/tutorbot/internal/store/storetest"
)

type fetcher map[string]string

func (f fetcher) Fetch(_ context.Context, ref string) (io.ReadCloser, error) {
	body, ok := f[ref]
	if !ok {
		return nil, errors.New("file not found")
	}
	return io.NopCloser(bytes.NewBufferString(body)), nil
}

type bucket struct {
	objects map[string][]byte
	types   map[string]string
}

func (b *bucket) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.objects[key] = data
	b.types[key] = contentType
	return nil
}

func TestArchiveStoresScreenshot(t *testing.T) {
	b := &bucket{objects: map[string][]byte{}, types: map[string]string{}}
	a := archive.New(b, fetcher{"file-ref": "jpeg bytes"})

	sub := storetest.Submission(555, domain.FirstSemester)
	key, err := a.Archive(context.Background(), sub)
	require.NoError(t, err)

	assert.Equal(t, "screenshots/555/ABJ5551.jpg", key)
	assert.Equal(t, []byte("jpeg bytes"), b.objects[key])
	assert.Equal(t, "image/jpeg", b.types[key])
}

func TestArchiveErrors(t *testing.T) {
	b := &bucket{objects: map[string][]byte{}, types: map[string]string{}}
	a := archive.New(b, fetcher{})

	sub := storetest.Submission(1, domain.FirstSemester)
	_, err := a.Archive(context.Background(), sub)
	assert.ErrorContains(t, err, "fetch screenshot")

	sub.Payment.ScreenshotRef = ""
	_, err = a.Archive(context.Background(), sub)
	assert.Error(t, err)
	assert.Empty(t, b.objects)
}
